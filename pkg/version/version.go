package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time with -ldflags.
var Current = "dev"

// AppName is used in user agents, telemetry resources and CLI output.
const AppName = "cloudwaste"
