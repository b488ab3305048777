package jobxredis

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

var redisErrors = errx.NewRegistry("JOBX_REDIS")

var (
	ErrEnqueue  = redisErrors.Register("ENQUEUE", errx.TypeExternal, http.StatusBadGateway, "Failed to enqueue job")
	ErrStore    = redisErrors.Register("STORE", errx.TypeExternal, http.StatusBadGateway, "Job store unavailable")
	ErrNotFound = redisErrors.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Job not found")
	ErrCodec    = redisErrors.Register("CODEC", errx.TypeInternal, http.StatusInternalServerError, "Job record could not be encoded")
)
