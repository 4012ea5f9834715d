package config

// Mode represents the operational mode of the CLI
type Mode string

const (
	// ModeLocal runs against an in-process relay (no Azure required)
	ModeLocal Mode = "local"

	// ModeRemote runs against an Azure Relay namespace
	ModeRemote Mode = "remote"
)

// IsValid checks if the mode is valid
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeRemote
}

// String returns the string representation
func (m Mode) String() string {
	return string(m)
}
