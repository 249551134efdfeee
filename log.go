package wsrpc

import "go.uber.org/zap"

// NewProductionLogger builds the default structured logger used when no
// WithLogger option is supplied to NewServer. Embedders that already run
// zap elsewhere should pass their own logger via WithLogger instead.
func NewProductionLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
