// Package service builds a relay from configuration and drives it until the
// context ends or the peer channel is gone. It also starts the admin HTTP
// surface when an admin address is configured.
package service
