package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore        = "Core"
	ComponentControlLoop = "ControlLoop"
	ComponentMonitor     = "Monitor"
	ComponentWatchdog    = "Watchdog"

	// Service components
	ComponentChainService    = "ChainService"
	ComponentPipelineService = "PipelineService"
	ComponentHTTPClient      = "HTTPClient"

	// Surfaces
	ComponentHealthCheck = "HealthCheck"

	// Configuration
	ComponentConfig = "Config"
)
