// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax, which keeps the controller token
// and database/broker passwords out of the file:
//
//	controller:
//	  url: http://192.168.1.50
//	  token: ${EVON_TOKEN}
package config
