package handler

import (
	"context"
	"net/http"
)

// Context defines the contract for request contexts in the framework.
// The package provides no implementation of it.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
	Param(key string) string
	SetValue(key, val any)
}
