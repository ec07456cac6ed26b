package registry

import (
	"context"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"go.uber.org/zap"
)

// modelFiles are tried in order inside a version's source directory.
var modelFiles = []string{"model.json", "model.lgb", "model.txt"}

// Load resolves a version of the registered model name ("latest" or a
// number, optionally "v"-prefixed) and decodes the first model file found
// in its source.
func (c *MLflowClient) Load(ctx context.Context, name, version string) (model.Predictor, error) {
	mv, err := c.ResolveVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	source := strings.TrimRight(mv.Source, "/")

	var lastErr error
	for _, file := range modelFiles {
		data, err := c.Download(ctx, source+"/"+file)
		if err != nil {
			if !errors.IsType(err, errors.ErrorTypeNotFound) {
				return nil, err
			}
			lastErr = err
			continue
		}
		format, err := model.FormatFromPath(file)
		if err != nil {
			return nil, err
		}
		p, err := model.Decode(data, format)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "decode registered model").
				WithDetail("model", name).
				WithDetail("version", mv.Version)
		}
		c.logger.Info("registered model loaded",
			zap.String("model", name),
			zap.String("requested", version),
			zap.String("version", mv.Version),
			zap.String("file", file))
		return p, nil
	}
	return nil, errors.Wrap(lastErr, errors.ErrorTypeNotFound, "no model file in registered source").
		WithDetail("source", source)
}
