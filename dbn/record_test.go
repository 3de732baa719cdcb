package dbn

import (
	"encoding/binary"
	"testing"
)

// buildRecord returns a zeroed record image of the given byte size with the
// header fields filled in. size must be a multiple of 4.
func buildRecord(t *testing.T, size int, rtype RType, instrumentID uint32, tsEvent uint64) []byte {
	t.Helper()
	if size%4 != 0 || size < headerSize {
		t.Fatalf("bad record size %d", size)
	}
	b := make([]byte, size)
	b[0] = uint8(size / 4)
	b[1] = uint8(rtype)
	binary.LittleEndian.PutUint16(b[2:], 1)
	binary.LittleEndian.PutUint32(b[4:], instrumentID)
	binary.LittleEndian.PutUint64(b[8:], tsEvent)
	return b
}

// putSymbol writes a NUL-padded fixed-width symbol field.
func putSymbol(b []byte, off int, symbol string) {
	copy(b[off:off+smapSymbolLen], symbol)
}

func TestRecordHeader(t *testing.T) {
	b := buildRecord(t, 16, RTypeSmsg, 42, 1234567890)
	rec := newRecord(b)

	if rec.RLength != 4 || rec.Length() != 16 {
		t.Errorf("unexpected length: rlength=%d length=%d", rec.RLength, rec.Length())
	}
	if rec.RType != RTypeSmsg {
		t.Errorf("unexpected rtype: %#x", rec.RType)
	}
	if rec.PublisherID != 1 {
		t.Errorf("unexpected publisher: %d", rec.PublisherID)
	}
	if rec.InstrumentID != 42 {
		t.Errorf("unexpected instrument: %d", rec.InstrumentID)
	}
	if rec.TsEvent != 1234567890 {
		t.Errorf("unexpected ts_event: %d", rec.TsEvent)
	}
}

func TestSymbolMappingDecode(t *testing.T) {
	b := buildRecord(t, 88, RTypeSmap, 1001, 5)
	putSymbol(b, smapInSymbolOff, "SPY.OPT")
	putSymbol(b, smapOutSymbolOff, "SPY   250117C00450000")
	binary.LittleEndian.PutUint64(b[smapStartTsOff:], 100)
	binary.LittleEndian.PutUint64(b[smapEndTsOff:], 200)
	binary.LittleEndian.PutUint64(b[smapTsOutOff:], 300)

	m, ok := newRecord(b).SymbolMapping()
	if !ok {
		t.Fatal("SymbolMapping decode failed")
	}
	if m.STypeInSymbol != "SPY.OPT" {
		t.Errorf("unexpected stype_in: %q", m.STypeInSymbol)
	}
	if m.STypeOutSymbol != "SPY   250117C00450000" {
		t.Errorf("unexpected stype_out: %q", m.STypeOutSymbol)
	}
	if m.StartTs != 100 || m.EndTs != 200 || m.TsOut != 300 {
		t.Errorf("unexpected timestamps: %d %d %d", m.StartTs, m.EndTs, m.TsOut)
	}
	if m.InstrumentID != 1001 {
		t.Errorf("unexpected instrument: %d", m.InstrumentID)
	}
}

func TestSymbolMappingWrongType(t *testing.T) {
	b := buildRecord(t, 88, RTypeSdef, 1, 1)
	if _, ok := newRecord(b).SymbolMapping(); ok {
		t.Error("decode should fail on wrong rtype")
	}
}

func TestSecurityDefinitionDecode(t *testing.T) {
	b := buildRecord(t, 380, RTypeSdef, 7777, 9)
	binary.LittleEndian.PutUint64(b[sdefTsRecvOff:], 111)
	binary.LittleEndian.PutUint64(b[sdefExpirationOff:], 222)
	binary.LittleEndian.PutUint64(b[sdefStrikePriceOff:], 450000000000)
	binary.LittleEndian.PutUint16(b[sdefMaturityYearOff:], 2025)
	b[sdefMaturityMonthOff] = 1
	b[sdefMaturityDayOff] = 17
	copy(b[sdefRawSymbolOff:], "SPY   250117C00450000")
	copy(b[sdefExchangeOff:], "XCBO")
	copy(b[sdefAssetOff:], "SPY")
	copy(b[sdefUnderlyingOff:], "SPY")

	d, ok := newRecord(b).SecurityDefinition()
	if !ok {
		t.Fatal("SecurityDefinition decode failed")
	}
	if d.InstrumentID != 7777 {
		t.Errorf("unexpected instrument: %d", d.InstrumentID)
	}
	if d.TsRecv != 111 || d.Expiration != 222 {
		t.Errorf("unexpected timestamps: %d %d", d.TsRecv, d.Expiration)
	}
	if d.StrikePrice != 450000000000 {
		t.Errorf("unexpected strike: %d", d.StrikePrice)
	}
	if d.RawSymbol != "SPY   250117C00450000" {
		t.Errorf("unexpected raw symbol: %q", d.RawSymbol)
	}
	if d.Exchange != "XCBO" || d.Asset != "SPY" || d.Underlying != "SPY" {
		t.Errorf("unexpected strings: %q %q %q", d.Exchange, d.Asset, d.Underlying)
	}
	if d.MaturityYear != 2025 || d.MaturityMonth != 1 || d.MaturityDay != 17 {
		t.Errorf("unexpected maturity: %d-%d-%d", d.MaturityYear, d.MaturityMonth, d.MaturityDay)
	}
}

func TestCmbp1Decode(t *testing.T) {
	b := buildRecord(t, 88, RTypeCmbp1, 5, 1000)
	binary.LittleEndian.PutUint64(b[quotePriceOff:], 4500000000)
	binary.LittleEndian.PutUint32(b[quoteSizeOff:], 10)
	b[28] = 'M'
	b[29] = 'A'
	binary.LittleEndian.PutUint64(b[quoteTsRecvOff:], 2000)
	binary.LittleEndian.PutUint64(b[quoteBidPxOff:], 4499)
	binary.LittleEndian.PutUint64(b[quoteAskPxOff:], 4501)
	binary.LittleEndian.PutUint32(b[quoteBidSzOff:], 3)
	binary.LittleEndian.PutUint32(b[quoteAskSzOff:], 4)
	binary.LittleEndian.PutUint64(b[quoteTsOutOff:], 3000)

	q, ok := newRecord(b).Cmbp1()
	if !ok {
		t.Fatal("Cmbp1 decode failed")
	}
	if q.Price != 4500000000 || q.Size != 10 {
		t.Errorf("unexpected price/size: %d/%d", q.Price, q.Size)
	}
	if q.Action != 'M' || q.Side != 'A' {
		t.Errorf("unexpected action/side: %c/%c", q.Action, q.Side)
	}
	if q.TsRecv != 2000 || q.TsOut != 3000 {
		t.Errorf("unexpected timestamps: %d %d", q.TsRecv, q.TsOut)
	}
	if q.BidPx != 4499 || q.AskPx != 4501 || q.BidSz != 3 || q.AskSz != 4 {
		t.Errorf("unexpected book: %d %d %d %d", q.BidPx, q.AskPx, q.BidSz, q.AskSz)
	}
}

func TestBboDecode(t *testing.T) {
	for _, rtype := range []RType{RTypeCbbo1s, RTypeCbbo1m, RTypeTcbbo, RTypeBbo1s, RTypeBbo1m} {
		b := buildRecord(t, 88, rtype, 5, 1000)
		binary.LittleEndian.PutUint64(b[quoteTsRecvOff:], 2000)
		binary.LittleEndian.PutUint32(b[44:], 77)
		binary.LittleEndian.PutUint64(b[quoteTsOutOff:], 3000)

		q, ok := newRecord(b).Bbo()
		if !ok {
			t.Fatalf("Bbo decode failed for rtype %#x", rtype)
		}
		if q.TsRecv != 2000 || q.TsOut != 3000 || q.Sequence != 77 {
			t.Errorf("rtype %#x: unexpected fields %d %d %d", rtype, q.TsRecv, q.TsOut, q.Sequence)
		}
	}

	b := buildRecord(t, 88, RTypeCmbp1, 5, 1000)
	if _, ok := newRecord(b).Bbo(); ok {
		t.Error("Bbo decode should fail for cmbp-1")
	}
}

func TestSystemAndErrorMessageDecode(t *testing.T) {
	b := buildRecord(t, 88, RTypeSmsg, 0, 0)
	copy(b[msgTextOff:], "Finished definition replay")

	m, ok := newRecord(b).SystemMessage()
	if !ok {
		t.Fatal("SystemMessage decode failed")
	}
	if m.Msg != "Finished definition replay" {
		t.Errorf("unexpected msg: %q", m.Msg)
	}

	b = buildRecord(t, 88, RTypeEmsg, 0, 0)
	copy(b[msgTextOff:], "Bad subscription")

	e, ok := newRecord(b).ErrorMessage()
	if !ok {
		t.Fatal("ErrorMessage decode failed")
	}
	if e.Msg != "Bad subscription" {
		t.Errorf("unexpected msg: %q", e.Msg)
	}
}

func TestCstring(t *testing.T) {
	if got := cstring([]byte{'A', 'B', 0, 'C'}); got != "AB" {
		t.Errorf("cstring = %q", got)
	}
	if got := cstring([]byte{'A', 'B'}); got != "AB" {
		t.Errorf("cstring without NUL = %q", got)
	}
	if got := cstring([]byte{0}); got != "" {
		t.Errorf("empty cstring = %q", got)
	}
}
