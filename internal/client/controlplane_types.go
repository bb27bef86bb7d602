package client

// ControlPlaneConfig contains configuration for the local http api of the daemon
type ControlPlaneConfig struct {
	Addr      string // Address to bind the control plane server, empty disables it
	AuthToken string // Access token for the control plane server
}
