// Package config loads the shared YAML configuration of the api and the
// dashboard.
//
// Load("") reads the file named by SENTINELPULSE_CONFIG, or starts from
// defaults when that is unset. Environment overrides are applied after the
// file, then the result is validated. An empty target list is replaced by
// types.DefaultTargets.
//
// Watch reloads the file on change. Only the log level is applied at
// runtime; targets and listener addresses require a restart.
package config
