// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so services depend on a small stable API (Logger, Field)
// instead of a concrete logging library, and so output sinks can be
// swapped at runtime: console, file, and an event-bus sink that turns
// warn+ records into status events for attached observers.
//
// The zero value of Logger is usable and silent, which keeps optional
// logging dependencies out of constructors.
package logx
