// Package audit records security-relevant authentication events.
//
// A Recorder fans each Event out to its sinks: the audit_logs table
// (Repository), a Prometheus counter, an MQTT topic per action, an InfluxDB
// measurement and the structured log. A failing sink is logged and skipped.
package audit
