package mqtt

import (
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/supercap.go/pkg/telemetry"
)

// TelemetryMsg is the protobuf payload published on the telemetry topic.
type TelemetryMsg struct {
	TimeUnixNano      int64   `protobuf:"varint,1,opt,name=time_unix_nano,json=timeUnixNano,proto3" json:"time_unix_nano,omitempty"`
	Format            string  `protobuf:"bytes,2,opt,name=format,proto3" json:"format,omitempty"`
	Status            uint32  `protobuf:"varint,3,opt,name=status,proto3" json:"status,omitempty"`
	PowerStageOn      bool    `protobuf:"varint,4,opt,name=power_stage_on,json=powerStageOn,proto3" json:"power_stage_on,omitempty"`
	LimitReason       string  `protobuf:"bytes,5,opt,name=limit_reason,json=limitReason,proto3" json:"limit_reason,omitempty"`
	ErrorLevel        string  `protobuf:"bytes,6,opt,name=error_level,json=errorLevel,proto3" json:"error_level,omitempty"`
	WirelessCharging  string  `protobuf:"bytes,7,opt,name=wireless_charging,json=wirelessCharging,proto3" json:"wireless_charging,omitempty"`
	ChassisPower      float64 `protobuf:"fixed64,8,opt,name=chassis_power,json=chassisPower,proto3" json:"chassis_power,omitempty"`
	HasRefereePower   bool    `protobuf:"varint,9,opt,name=has_referee_power,json=hasRefereePower,proto3" json:"has_referee_power,omitempty"`
	RefereePower      float64 `protobuf:"fixed64,10,opt,name=referee_power,json=refereePower,proto3" json:"referee_power,omitempty"`
	ChassisPowerLimit uint32  `protobuf:"varint,11,opt,name=chassis_power_limit,json=chassisPowerLimit,proto3" json:"chassis_power_limit,omitempty"`
	CapEnergy         uint32  `protobuf:"varint,12,opt,name=cap_energy,json=capEnergy,proto3" json:"cap_energy,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *TelemetryMsg) ProtoMessage() {}

// Reset implements proto.Message.
func (m *TelemetryMsg) Reset() { *m = TelemetryMsg{} }

// String implements proto.Message.
func (m *TelemetryMsg) String() string { return proto.CompactTextString(m) }

// NewTelemetryMsg converts a Record.
func NewTelemetryMsg(r telemetry.Record) *TelemetryMsg {
	m := &TelemetryMsg{
		Format:            r.Format,
		Status:            uint32(r.Status),
		PowerStageOn:      r.PowerStageOn,
		LimitReason:       r.LimitReason,
		ErrorLevel:        r.ErrorLevel,
		WirelessCharging:  r.WirelessCharging,
		ChassisPower:      r.ChassisPower,
		ChassisPowerLimit: uint32(r.ChassisPowerLimit),
		CapEnergy:         uint32(r.CapEnergy),
	}
	if !r.Time.IsZero() {
		m.TimeUnixNano = r.Time.UnixNano()
	}
	if r.RefereePower != nil {
		m.HasRefereePower, m.RefereePower = true, *r.RefereePower
	}
	return m
}

// Record converts back to a Record.
func (m *TelemetryMsg) Record() telemetry.Record {
	r := telemetry.Record{
		Format:            m.Format,
		Status:            uint8(m.Status),
		PowerStageOn:      m.PowerStageOn,
		LimitReason:       m.LimitReason,
		ErrorLevel:        m.ErrorLevel,
		WirelessCharging:  m.WirelessCharging,
		ChassisPower:      m.ChassisPower,
		ChassisPowerLimit: uint16(m.ChassisPowerLimit),
		CapEnergy:         uint8(m.CapEnergy),
	}
	if m.TimeUnixNano != 0 {
		r.Time = time.Unix(0, m.TimeUnixNano)
	}
	if m.HasRefereePower {
		ref := m.RefereePower
		r.RefereePower = &ref
	}
	return r
}
