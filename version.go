package device

// Global version for device-tracker
var Version string = "0.0.0"
