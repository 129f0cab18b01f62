// Package supervisor runs the periodic loops that keep the gateway
// healthy: the RX watchdog that reconnects a silent radio and the
// peer-sync inventory ticker.
package supervisor
