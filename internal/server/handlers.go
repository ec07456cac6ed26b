package server

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/gridcast/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// predictRequest is the JSON body of POST /api/v1/predict. Pointers make
// every feature required while still accepting zero.
type predictRequest struct {
	BuildingID       *int32     `json:"building_id" binding:"required,min=0"`
	Meter            *int8      `json:"meter" binding:"required,min=0,max=3"`
	SiteID           *int8      `json:"site_id" binding:"required,min=0"`
	PrimaryUse       *string    `json:"primary_use" binding:"required"`
	SquareFeet       *int32     `json:"square_feet" binding:"required,min=0"`
	AirTemperature   *float32   `json:"air_temperature" binding:"required"`
	CloudCoverage    *float32   `json:"cloud_coverage" binding:"required"`
	DewTemperature   *float32   `json:"dew_temperature" binding:"required"`
	PrecipDepth1Hr   *float32   `json:"precip_depth_1_hr" binding:"required"`
	SeaLevelPressure *float32   `json:"sea_level_pressure" binding:"required"`
	WindDirection    *float32   `json:"wind_direction" binding:"required"`
	WindSpeed        *float32   `json:"wind_speed" binding:"required"`
	Day              *int8      `json:"day" binding:"required,min=1,max=31"`
	Month            *int8      `json:"month" binding:"required,min=1,max=12"`
	Week             *int8      `json:"week" binding:"required,min=1,max=53"`
	Hour             *int8      `json:"hour" binding:"required,min=0,max=23"`
	IsWeekend        *int8      `json:"is_weekend" binding:"required,oneof=0 1"`
	ModelVersion     string     `json:"model_version"`
	Timestamp        *time.Time `json:"timestamp"`
}

func (r predictRequest) toService() service.PredictionRequest {
	return service.PredictionRequest{
		BuildingID:       *r.BuildingID,
		Meter:            *r.Meter,
		SiteID:           *r.SiteID,
		PrimaryUse:       *r.PrimaryUse,
		SquareFeet:       *r.SquareFeet,
		AirTemperature:   *r.AirTemperature,
		CloudCoverage:    *r.CloudCoverage,
		DewTemperature:   *r.DewTemperature,
		PrecipDepth1Hr:   *r.PrecipDepth1Hr,
		SeaLevelPressure: *r.SeaLevelPressure,
		WindDirection:    *r.WindDirection,
		WindSpeed:        *r.WindSpeed,
		Day:              *r.Day,
		Month:            *r.Month,
		Week:             *r.Week,
		Hour:             *r.Hour,
		IsWeekend:        *r.IsWeekend,
		ModelVersion:     r.ModelVersion,
		Timestamp:        r.Timestamp,
	}
}

type predictResponse struct {
	MeterReading float64 `json:"meter_reading"`
	Status       string  `json:"status"`
	ModelVersion string  `json:"model_version"`
}

var registerNames sync.Once

// useJSONFieldNames makes validation errors report the JSON field name.
func useJSONFieldNames() {
	registerNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// fieldError is one entry of a 422 detail list.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Msg   string `json:"msg"`
}

// bindingDetail lists the failed field rules, or falls back to the decoder
// message for malformed JSON.
func bindingDetail(err error) interface{} {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "field required"
		if fe.Tag() != "required" {
			msg = "value violates " + fe.Tag()
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
		}
		out = append(out, fieldError{Field: fe.Field(), Rule: fe.Tag(), Msg: msg})
	}
	return out
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "API is running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online", "model_version": s.predictor.DefaultVersion()})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": bindingDetail(err)})
		return
	}
	res, err := s.predictor.Predict(c.Request.Context(), req.toService())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, predictResponse{
		MeterReading: res.MeterReading,
		Status:       "success",
		ModelVersion: res.ModelVersion,
	})
}

func (s *Server) handleReport(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.monitor.Generate(c.Request.Context()))
}
