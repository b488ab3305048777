package jobx

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

var jobxErrors = errx.NewRegistry("JOBX")

var (
	ErrInvalidJob     = jobxErrors.Register("INVALID_JOB", errx.TypeValidation, http.StatusBadRequest, "Invalid job definition")
	ErrAlreadyRunning = jobxErrors.Register("ALREADY_RUNNING", errx.TypeConflict, http.StatusConflict, "Worker is already running")
)
