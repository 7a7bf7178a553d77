// Package ir provides the foundational types shared by every other package:
// event payload values, zones, action names, events and compiled rules.
//
// This package imports nothing internal. All other internal packages import
// ir; ir stays the bottom layer so the engine, compiler and ingress never
// form import cycles.
//
// Key design constraints:
//   - NO float payload values - numbers are int64 so rule signatures are stable
//   - Rule signatures are computed once at compile time, never per evaluation
//   - Zones are an ordered enum for display only; transitions are rule-driven
package ir
