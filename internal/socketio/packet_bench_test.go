package socketio

import "testing"

var benchmarkReading = []byte(`42["vital-reading-update",{"practiceId":7,"patientId":42,"SYS":120,"DIA":80,"HR":64,"SPO2":98}]`)

func BenchmarkDecodeReadingFrame(b *testing.B) {
	b.ReportAllocs()
	for index := 0; index < b.N; index++ {
		engine, err := DecodeEngine(benchmarkReading)
		if err != nil {
			b.Fatalf("decode engine: %v", err)
		}
		packet, err := DecodePacket(engine.Data)
		if err != nil {
			b.Fatalf("decode packet: %v", err)
		}
		if _, _, err := packet.Event(); err != nil {
			b.Fatalf("event: %v", err)
		}
	}
}

func BenchmarkEncodeJoinFrame(b *testing.B) {
	b.ReportAllocs()
	request := map[string]int{"practiceId": 7, "patientId": 42}
	for index := 0; index < b.N; index++ {
		packet, err := NewEventPacket("join-patient-room", request)
		if err != nil {
			b.Fatalf("encode: %v", err)
		}
		_ = EncodeEngine(MessagePacket(packet))
	}
}
