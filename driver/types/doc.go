// Package types contains the interfaces and types shared by database drivers.
package types
