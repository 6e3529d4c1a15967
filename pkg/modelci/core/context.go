package core

type ctxKey string

const (
	CtxKeyRunnerId ctxKey = ctxKey("runnerId")
	CtxKeyUsername ctxKey = ctxKey("username")
)
