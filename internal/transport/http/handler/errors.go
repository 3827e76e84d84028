package handler

const (
	errInternalServer  = "Internal server error"
	errJobNotFound     = "Job not found"
	errHandlerNotFound = "No handler registered for this app_name/task_type"
)
