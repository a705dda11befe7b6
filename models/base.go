package models

import (
	"context"

	"bitbucket.org/mmdatafocus/books_sync/utils"
	"github.com/google/uuid"
)

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func userNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := utils.GetUserNameFromContext(ctx); ok {
		return v
	}
	return ""
}
