// Package types defines the data model shared across kaban's services:
// Board, Column, Task, TaskLink, AuditEntry, and the filter/config structs
// that flow between the service layer and the store.
package types
