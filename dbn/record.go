package dbn

import (
	"bytes"
	"encoding/binary"
)

// RType discriminates DBN record layouts. Values the client does not decode
// are still framed and delivered as opaque records.
type RType uint8

const (
	RTypeMBP0      RType = 0x00
	RTypeMBP1      RType = 0x01
	RTypeMBP10     RType = 0x0A
	RTypeStatus    RType = 0x12
	RTypeSdef      RType = 0x13
	RTypeImbalance RType = 0x14
	RTypeEmsg      RType = 0x15
	RTypeSmap      RType = 0x16
	RTypeSmsg      RType = 0x17
	RTypeStat      RType = 0x18
	RTypeOHLCV1s   RType = 0x20
	RTypeOHLCV1m   RType = 0x21
	RTypeOHLCV1h   RType = 0x22
	RTypeOHLCV1d   RType = 0x23
	RTypeMBO       RType = 0xA0
	RTypeCmbp1     RType = 0xB1
	RTypeCbbo1s    RType = 0xC0
	RTypeCbbo1m    RType = 0xC1
	RTypeTcbbo     RType = 0xC2
	RTypeBbo1s     RType = 0xC3
	RTypeBbo1m     RType = 0xC4
)

// headerSize is the fixed DBN record header: rlength, rtype, publisher_id,
// instrument_id, ts_event. Also the minimum valid record length.
const headerSize = 16

// Header is the leading 16 bytes common to every DBN record. RLength encodes
// the full record size in units of 4 bytes.
type Header struct {
	RLength      uint8
	RType        RType
	PublisherID  uint16
	InstrumentID uint32
	TsEvent      uint64
}

// Record is one framed DBN record. The body slice is owned by the framing
// reader and is only valid until the record handler returns; handlers copy
// what they keep.
type Record struct {
	Header
	body []byte
}

func newRecord(body []byte) Record {
	return Record{
		Header: Header{
			RLength:      body[0],
			RType:        RType(body[1]),
			PublisherID:  binary.LittleEndian.Uint16(body[2:4]),
			InstrumentID: binary.LittleEndian.Uint32(body[4:8]),
			TsEvent:      binary.LittleEndian.Uint64(body[8:16]),
		},
		body: body,
	}
}

// ParseRecord frames one record from the front of b, which must hold the
// full 4 x rlength bytes. ok is false when b is shorter than the encoded
// length or the length is invalid.
func ParseRecord(b []byte) (Record, bool) {
	if len(b) < headerSize {
		return Record{}, false
	}
	length := 4 * int(b[0])
	if length < headerSize || len(b) < length {
		return Record{}, false
	}
	return newRecord(b[:length]), true
}

// Length returns the record's full byte length, 4 x rlength.
func (r Record) Length() int {
	return 4 * int(r.RLength)
}

// Bytes returns the raw record including the header. The slice is borrowed
// from the framing reader's buffer.
func (r Record) Bytes() []byte {
	return r.body
}

// cstring decodes a fixed-width NUL-padded field.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// SymbolMapping is a decoded symbol mapping record (rtype 0x16).
type SymbolMapping struct {
	Header
	STypeInSymbol  string
	STypeOutSymbol string
	StartTs        uint64
	EndTs          uint64
	TsOut          uint64 // only meaningful when ts_out was enabled at auth
}

const (
	smapInSymbolOff  = 16
	smapOutSymbolOff = 38
	smapSymbolLen    = 22
	smapStartTsOff   = 64
	smapEndTsOff     = 72
	smapTsOutOff     = 80
)

// SymbolMapping decodes the record as a symbol mapping. ok is false when the
// rtype or length does not match.
func (r Record) SymbolMapping() (SymbolMapping, bool) {
	if r.RType != RTypeSmap || len(r.body) < smapEndTsOff+8 {
		return SymbolMapping{}, false
	}
	m := SymbolMapping{
		Header:         r.Header,
		STypeInSymbol:  cstring(r.body[smapInSymbolOff : smapInSymbolOff+smapSymbolLen]),
		STypeOutSymbol: cstring(r.body[smapOutSymbolOff : smapOutSymbolOff+smapSymbolLen]),
		StartTs:        binary.LittleEndian.Uint64(r.body[smapStartTsOff:]),
		EndTs:          binary.LittleEndian.Uint64(r.body[smapEndTsOff:]),
	}
	if len(r.body) >= smapTsOutOff+8 {
		m.TsOut = binary.LittleEndian.Uint64(r.body[smapTsOutOff:])
	}
	return m, true
}

// SecurityDefinition is a decoded security definition record (rtype 0x13).
// Only the fields downstream consumers use are decoded; the wire carries
// many more.
type SecurityDefinition struct {
	Header
	TsRecv            uint64
	MinPriceIncrement int64
	DisplayFactor     int64
	Expiration        uint64
	Activation        uint64
	HighLimitPrice    int64
	LowLimitPrice     int64
	UnderlyingID      uint32
	RawInstrumentID   uint32
	MarketDepth       int32
	MaxTradeVol       uint32
	MinLotSize        int32
	Currency          string
	RawSymbol         string
	Group             string
	Exchange          string
	Asset             string
	SecurityType      string
	Underlying        string
	InstrumentClass   uint32
	StrikePrice       int64
	MaturityYear      uint16
	MaturityMonth     uint8
	MaturityDay       uint8
	TsOut             uint64 // only meaningful when ts_out was enabled at auth
}

// Byte offsets into the packed security definition layout.
const (
	sdefTsRecvOff            = 16
	sdefMinPriceIncrementOff = 24
	sdefDisplayFactorOff     = 32
	sdefExpirationOff        = 40
	sdefActivationOff        = 48
	sdefHighLimitPriceOff    = 56
	sdefLowLimitPriceOff     = 64
	sdefUnderlyingIDOff      = 116
	sdefRawInstrumentIDOff   = 120
	sdefMarketDepthOff       = 128
	sdefMaxTradeVolOff       = 136
	sdefMinLotSizeOff        = 140
	sdefMaturityYearOff      = 180
	sdefCurrencyOff          = 186
	sdefRawSymbolOff         = 200
	sdefGroupOff             = 222
	sdefExchangeOff          = 243
	sdefAssetOff             = 248
	sdefSecurityTypeOff      = 262
	sdefUnderlyingOff        = 300
	sdefInstrumentClassOff   = 325
	sdefStrikePriceOff       = 331
	sdefMaturityMonthOff     = 359
	sdefMaturityDayOff       = 360
	sdefTsOutOff             = 372
	sdefMinLen               = 372
)

// SecurityDefinition decodes the record as a security definition. ok is
// false when the rtype or length does not match.
func (r Record) SecurityDefinition() (SecurityDefinition, bool) {
	if r.RType != RTypeSdef || len(r.body) < sdefMinLen {
		return SecurityDefinition{}, false
	}
	b := r.body
	d := SecurityDefinition{
		Header:            r.Header,
		TsRecv:            binary.LittleEndian.Uint64(b[sdefTsRecvOff:]),
		MinPriceIncrement: int64(binary.LittleEndian.Uint64(b[sdefMinPriceIncrementOff:])),
		DisplayFactor:     int64(binary.LittleEndian.Uint64(b[sdefDisplayFactorOff:])),
		Expiration:        binary.LittleEndian.Uint64(b[sdefExpirationOff:]),
		Activation:        binary.LittleEndian.Uint64(b[sdefActivationOff:]),
		HighLimitPrice:    int64(binary.LittleEndian.Uint64(b[sdefHighLimitPriceOff:])),
		LowLimitPrice:     int64(binary.LittleEndian.Uint64(b[sdefLowLimitPriceOff:])),
		UnderlyingID:      binary.LittleEndian.Uint32(b[sdefUnderlyingIDOff:]),
		RawInstrumentID:   binary.LittleEndian.Uint32(b[sdefRawInstrumentIDOff:]),
		MarketDepth:       int32(binary.LittleEndian.Uint32(b[sdefMarketDepthOff:])),
		MaxTradeVol:       binary.LittleEndian.Uint32(b[sdefMaxTradeVolOff:]),
		MinLotSize:        int32(binary.LittleEndian.Uint32(b[sdefMinLotSizeOff:])),
		Currency:          cstring(b[sdefCurrencyOff : sdefCurrencyOff+4]),
		RawSymbol:         cstring(b[sdefRawSymbolOff : sdefRawSymbolOff+22]),
		Group:             cstring(b[sdefGroupOff : sdefGroupOff+21]),
		Exchange:          cstring(b[sdefExchangeOff : sdefExchangeOff+5]),
		Asset:             cstring(b[sdefAssetOff : sdefAssetOff+7]),
		SecurityType:      cstring(b[sdefSecurityTypeOff : sdefSecurityTypeOff+7]),
		Underlying:        cstring(b[sdefUnderlyingOff : sdefUnderlyingOff+21]),
		InstrumentClass:   binary.LittleEndian.Uint32(b[sdefInstrumentClassOff:]),
		StrikePrice:       int64(binary.LittleEndian.Uint64(b[sdefStrikePriceOff:])),
		MaturityYear:      binary.LittleEndian.Uint16(b[sdefMaturityYearOff:]),
		MaturityMonth:     b[sdefMaturityMonthOff],
		MaturityDay:       b[sdefMaturityDayOff],
	}
	if len(b) >= sdefTsOutOff+8 {
		d.TsOut = binary.LittleEndian.Uint64(b[sdefTsOutOff:])
	}
	return d, true
}

// Cmbp1 is a decoded consolidated market-by-price record (rtype 0xB1).
type Cmbp1 struct {
	Header
	Price     int64
	Size      uint32
	Action    byte
	Side      byte
	Flags     uint8
	TsRecv    uint64
	TsInDelta int32
	BidPx     uint64
	AskPx     uint64
	BidSz     uint32
	AskSz     uint32
	BidPb     uint16
	AskPb     uint16
	TsOut     uint64 // only meaningful when ts_out was enabled at auth
}

const (
	quotePriceOff  = 16
	quoteSizeOff   = 24
	quoteTsRecvOff = 32
	quoteBidPxOff  = 48
	quoteAskPxOff  = 56
	quoteBidSzOff  = 64
	quoteAskSzOff  = 68
	quoteTsOutOff  = 80
	quoteMinLen    = 80
)

// Cmbp1 decodes the record as a CMBP-1 quote. ok is false when the rtype or
// length does not match.
func (r Record) Cmbp1() (Cmbp1, bool) {
	if r.RType != RTypeCmbp1 || len(r.body) < quoteMinLen {
		return Cmbp1{}, false
	}
	b := r.body
	q := Cmbp1{
		Header:    r.Header,
		Price:     int64(binary.LittleEndian.Uint64(b[quotePriceOff:])),
		Size:      binary.LittleEndian.Uint32(b[quoteSizeOff:]),
		Action:    b[28],
		Side:      b[29],
		Flags:     b[30],
		TsRecv:    binary.LittleEndian.Uint64(b[quoteTsRecvOff:]),
		TsInDelta: int32(binary.LittleEndian.Uint32(b[40:])),
		BidPx:     binary.LittleEndian.Uint64(b[quoteBidPxOff:]),
		AskPx:     binary.LittleEndian.Uint64(b[quoteAskPxOff:]),
		BidSz:     binary.LittleEndian.Uint32(b[quoteBidSzOff:]),
		AskSz:     binary.LittleEndian.Uint32(b[quoteAskSzOff:]),
		BidPb:     binary.LittleEndian.Uint16(b[72:]),
		AskPb:     binary.LittleEndian.Uint16(b[76:]),
	}
	if len(b) >= quoteTsOutOff+8 {
		q.TsOut = binary.LittleEndian.Uint64(b[quoteTsOutOff:])
	}
	return q, true
}

// Bbo is a decoded best-bid-offer interval record (rtypes 0xC0-0xC4).
type Bbo struct {
	Header
	Price    int64
	Size     uint32
	Side     byte
	Flags    uint8
	TsRecv   uint64
	Sequence uint32
	BidPx    uint64
	AskPx    uint64
	BidSz    uint32
	AskSz    uint32
	BidCt    uint32
	AskCt    uint32
	TsOut    uint64 // only meaningful when ts_out was enabled at auth
}

// IsBbo reports whether the rtype is one of the BBO/CBBO interval variants.
func (t RType) IsBbo() bool {
	switch t {
	case RTypeCbbo1s, RTypeCbbo1m, RTypeTcbbo, RTypeBbo1s, RTypeBbo1m:
		return true
	}
	return false
}

// Bbo decodes the record as a BBO/CBBO quote. ok is false when the rtype or
// length does not match.
func (r Record) Bbo() (Bbo, bool) {
	if !r.RType.IsBbo() || len(r.body) < quoteMinLen {
		return Bbo{}, false
	}
	b := r.body
	q := Bbo{
		Header:   r.Header,
		Price:    int64(binary.LittleEndian.Uint64(b[quotePriceOff:])),
		Size:     binary.LittleEndian.Uint32(b[quoteSizeOff:]),
		Side:     b[29],
		Flags:    b[30],
		TsRecv:   binary.LittleEndian.Uint64(b[quoteTsRecvOff:]),
		Sequence: binary.LittleEndian.Uint32(b[44:]),
		BidPx:    binary.LittleEndian.Uint64(b[quoteBidPxOff:]),
		AskPx:    binary.LittleEndian.Uint64(b[quoteAskPxOff:]),
		BidSz:    binary.LittleEndian.Uint32(b[quoteBidSzOff:]),
		AskSz:    binary.LittleEndian.Uint32(b[quoteAskSzOff:]),
		BidCt:    binary.LittleEndian.Uint32(b[72:]),
		AskCt:    binary.LittleEndian.Uint32(b[76:]),
	}
	if len(b) >= quoteTsOutOff+8 {
		q.TsOut = binary.LittleEndian.Uint64(b[quoteTsOutOff:])
	}
	return q, true
}

const (
	msgTextOff = 16
	msgTextLen = 64
	msgTsOut   = 80
)

// ErrorMessage is a decoded server error record (rtype 0x15).
type ErrorMessage struct {
	Header
	Msg   string
	TsOut uint64
}

// ErrorMessage decodes the record as a server error. ok is false when the
// rtype or length does not match.
func (r Record) ErrorMessage() (ErrorMessage, bool) {
	if r.RType != RTypeEmsg || len(r.body) < msgTextOff+msgTextLen {
		return ErrorMessage{}, false
	}
	m := ErrorMessage{
		Header: r.Header,
		Msg:    cstring(r.body[msgTextOff : msgTextOff+msgTextLen]),
	}
	if len(r.body) >= msgTsOut+8 {
		m.TsOut = binary.LittleEndian.Uint64(r.body[msgTsOut:])
	}
	return m, true
}

// SystemMessage is a decoded system message record (rtype 0x17).
type SystemMessage struct {
	Header
	Msg   string
	TsOut uint64
}

// SystemMessage decodes the record as a system message. ok is false when the
// rtype or length does not match.
func (r Record) SystemMessage() (SystemMessage, bool) {
	if r.RType != RTypeSmsg || len(r.body) < msgTextOff+msgTextLen {
		return SystemMessage{}, false
	}
	m := SystemMessage{
		Header: r.Header,
		Msg:    cstring(r.body[msgTextOff : msgTextOff+msgTextLen]),
	}
	if len(r.body) >= msgTsOut+8 {
		m.TsOut = binary.LittleEndian.Uint64(r.body[msgTsOut:])
	}
	return m, true
}
