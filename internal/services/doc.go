// Package services defines the shared error taxonomy for pipeline
// components and hosts the external service clients in subpackages.
package services
