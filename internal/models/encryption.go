package models

// Field encryption parameters
const (
	NonceSize  = 12
	KeySize    = 32
	Iterations = 100000
)
