// Package incident is the business boundary for Beacon's correlation and
// lifecycle engine. It defines the Incident model and status machine, the
// Store interface (persistence), and the Service that correlates inbound
// alerts onto incidents, drives lifecycle transitions, and answers
// escalation timer firings.
package incident
