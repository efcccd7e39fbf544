package session

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendPackedVarints(b []byte, field protowire.Number, values ...uint64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func TestDecodeRecordClassifiesStatus(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fHostName, protowire.BytesType)
	b = protowire.AppendString(b, "daqifi-1")
	b = protowire.AppendTag(b, fAnalogPortCount, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, fDigitalPortCount, protowire.VarintType)
	b = protowire.AppendVarint(b, 4)

	rec, ok := decodeRecord(b)
	if !ok {
		t.Fatal("decodeRecord() ok = false")
	}
	if rec.isStream() {
		t.Fatal("isStream() = true, want false (status record)")
	}
	if rec.hostName != "daqifi-1" || rec.analogPortCount != 2 || rec.digitalPortCount != 4 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestDecodeRecordClassifiesStream(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fMsgTimeStamp, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = appendPackedVarints(b, fAnalogInData, 100, 200, 300)

	rec, ok := decodeRecord(b)
	if !ok {
		t.Fatal("decodeRecord() ok = false")
	}
	if !rec.isStream() {
		t.Fatal("isStream() = false, want true (stream record)")
	}
	if rec.tick != 12345 || len(rec.analogInt) != 3 || rec.analogInt[1] != 200 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestDecodeRecordLeavesFloatEmptyWhenOnlyIntSent(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fMsgTimeStamp, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = appendPackedVarints(b, fAnalogInData, 1, 2)

	rec, ok := decodeRecord(b)
	if !ok {
		t.Fatal("decodeRecord() ok = false")
	}
	values := rec.analogFloat
	if len(values) != 0 {
		t.Fatalf("analogFloat = %v, want empty when not sent", values)
	}
	if len(rec.analogInt) != 2 {
		t.Fatalf("analogInt = %v, want 2 entries", rec.analogInt)
	}
}

func TestDecodeRecordCalibrationDefaultsForMissingEntries(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fAnalogPortCount, protowire.VarintType)
	b = protowire.AppendVarint(b, 3)
	// Only one calibration slope supplied for 3 analog channels.
	var packed []byte
	packed = protowire.AppendFixed64(packed, math.Float64bits(2.5))
	b = protowire.AppendTag(b, fCalSlopes, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	rec, ok := decodeRecord(b)
	if !ok {
		t.Fatal("decodeRecord() ok = false")
	}
	if len(rec.calibration) != 1 || rec.calibration[0].slope != 2.5 {
		t.Fatalf("calibration = %+v", rec.calibration)
	}
}
