package util

// ConfigFlag is the persistent flag that overrides the config file path.
const ConfigFlag = "config"
