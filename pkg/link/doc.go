// Package link manages the connection to the supercapacitor board.
//
// A Link owns the CAN bus while connected and runs two activities: a
// heartbeat transmitting the pending command every HeartbeatInterval,
// and a receiver decoding feedback frames and handing telemetry to the
// TelemetryHandler in receipt order. Faults never stop the link; they
// are reported to the DiagnosticHandler.
//
// Typical use:
//
//	l := link.New()
//	l.Telemetry = link.HandleTelemetryFunc(func(ctx context.Context, t protocol.Telemetry) { ... })
//	if err := l.Connect(ctx, "socketcan://can0"); err != nil { ... }
//	defer l.Disconnect()
//	cmd := l.Command()
//	cmd.EnableDCDC = true
//	l.UpdateCommand(cmd)
package link
