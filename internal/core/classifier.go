package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Confidence and reason reported when the model answered but the answer
// could not be used
const (
	FallbackConfidence = 20
	FallbackReason     = "Fallback classification - LLM response could not be parsed"
)

// LLMClassifier adapts an LLMClient to the Classifier contract: every call
// is bounded by a timeout and every failure becomes an UNKNOWN result
type LLMClassifier struct {
	client  LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMClassifier creates a new classifier around an LLM client
func NewLLMClassifier(client LLMClient, timeout time.Duration, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Classify asks the model for a category and never fails
func (c *LLMClassifier) Classify(ctx context.Context, req ClassificationRequest) ClassificationResult {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.classify(ctx, &req)
	if err == nil {
		return *result
	}

	if errors.Is(err, ErrUnparseableResponse) {
		c.logger.Warn("LLM response could not be parsed",
			zap.String("subject", req.Subject),
			zap.Error(err))
		return ClassificationResult{
			Category:   CategoryUnknown,
			Confidence: FallbackConfidence,
			Reason:     FallbackReason,
		}
	}

	c.logger.Error("Classification error",
		zap.String("subject", req.Subject),
		zap.Error(err))
	return ClassificationResult{
		Category:   CategoryUnknown,
		Confidence: 0,
		Reason:     fmt.Sprintf("Error during classification: %v", err),
	}
}

func (c *LLMClassifier) classify(ctx context.Context, req *ClassificationRequest) (result *ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("LLM client panic: %v", r)
		}
	}()

	result, err = c.client.Classify(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", ErrUnparseableResponse)
	}
	return result, nil
}
