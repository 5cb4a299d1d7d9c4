package nn

import (
	"fmt"
	"io"
	"math"
)

const weightMagic uint32 = 0x1c0

// LayerEncoding selects how a Layer's raw parameter bytes decode into
// float32 values.
type LayerEncoding int

const (
	EncodingUnknown LayerEncoding = iota
	EncodingLinear16
	EncodingFloat16
	EncodingBFloat16
	EncodingFloat32
)

// Layer is one quantized (or raw float) weight or bias tensor: a dequant
// range, an encoding, a flat value buffer and its logical dims.
type Layer struct {
	Min, Max float32
	Encoding LayerEncoding
	Dims     []uint32
	Values   []float32
}

// Smolgen holds one encoder layer's optional smolgen bias-generation
// sub-network: compress -> two dense+layernorm blocks -> per-head
// projection via the network-global SmolgenW.
type Smolgen struct {
	Present  bool
	Compress Layer
	Dense1W, Dense1B Layer
	LN1G, LN1B       Layer
	Dense2W, Dense2B Layer
	LN2G, LN2B       Layer
}

// MHA is one encoder layer's multi-head self-attention block.
type MHA struct {
	QW, QB Layer
	KW, KB Layer
	VW, VB Layer
	DenseW, DenseB Layer
	Smolgen        Smolgen
}

// FFN is one encoder layer's position-wise feed-forward block.
type FFN struct {
	Dense1W, Dense1B Layer
	Dense2W, Dense2B Layer
}

// EncoderLayer is one attention-body transformer block: MHA, residual +
// layernorm, FFN, residual + layernorm.
type EncoderLayer struct {
	MHA        MHA
	LN1G, LN1B Layer
	FFN        FFN
	LN2G, LN2B Layer
}

// NetworkFormat is the root protobuf's format submessage, after
// normalize() promotes legacy structure codes to the attention-body
// convention spec.md §4.7.1 requires.
type NetworkFormat struct {
	InputFormat        int
	OutputFormat       int
	NetworkStructure   int
	PolicyFormat       int
	ValueFormat        int
	MovesLeftFormat    int
	DefaultActivation  int
	FFNActivation      int
	SmolgenActivation  int
	InputEmbedding     int
	HasNetworkFormat   bool
	HasFFNActivation   bool
	HasSmolgenActivation bool
	HasInputEmbedding  bool
}

// Weights is a fully decoded and format-normalized attention-body network.
type Weights struct {
	Magic  uint32
	Format NetworkFormat

	IPEmbW, IPEmbB     Layer
	IPMultGate         Layer
	IPAddGate          Layer
	SmolgenW           Layer
	HasSmolgenGlobal   bool

	Encoders  []EncoderLayer
	HeadCount int

	IPValW, IPValB   Layer
	IP1ValW, IP1ValB Layer
	IP2ValW, IP2ValB Layer
}

// LoadWeights decompresses a gzip'd protobuf weight stream, decodes it, and
// normalizes its network-format submessage. r is typically a file opened by
// the caller (EvalFile UCI option).
func LoadWeights(r io.Reader) (*Weights, error) {
	raw, err := decompressGzip(r)
	if err != nil {
		return nil, err
	}
	return parseWeights(raw)
}

func parseWeights(net []byte) (*Weights, error) {
	w := &Weights{}

	if f, ok, err := firstField(net, 1, wireFixed32); err != nil {
		return nil, err
	} else if ok {
		w.Magic = f.fixed32
	}
	if w.Magic != weightMagic {
		return nil, fmt.Errorf("nn: bad magic header (got %#x, want %#x)", w.Magic, weightMagic)
	}

	if fmtMsg, ok, err := firstSubmessage(net, 4); err != nil {
		return nil, err
	} else if ok {
		if nf, ok, err := firstSubmessage(fmtMsg, 2); err != nil {
			return nil, err
		} else if ok {
			w.Format.HasNetworkFormat = true
			if v, ok, err := varintField(nf, 1); err != nil {
				return nil, err
			} else if ok {
				w.Format.InputFormat = v
			}
			if v, ok, _ := varintField(nf, 2); ok {
				w.Format.OutputFormat = v
			}
			if v, ok, _ := varintField(nf, 3); ok {
				w.Format.NetworkStructure = v
			}
			if v, ok, _ := varintField(nf, 4); ok {
				w.Format.PolicyFormat = v
			}
			if v, ok, _ := varintField(nf, 5); ok {
				w.Format.ValueFormat = v
			}
			if v, ok, _ := varintField(nf, 6); ok {
				w.Format.MovesLeftFormat = v
			}
			if v, ok, _ := varintField(nf, 7); ok {
				w.Format.DefaultActivation = v
			}
			if v, ok, _ := varintField(nf, 8); ok {
				w.Format.SmolgenActivation = v
				w.Format.HasSmolgenActivation = true
			}
			if v, ok, _ := varintField(nf, 9); ok {
				w.Format.FFNActivation = v
				w.Format.HasFFNActivation = true
			}
			if v, ok, _ := varintField(nf, 10); ok {
				w.Format.InputEmbedding = v
				w.Format.HasInputEmbedding = true
			}
		}
	}

	weightsMsg, ok, err := firstSubmessage(net, 10)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("nn: missing weights submessage")
	}

	if v, ok, _ := varintField(weightsMsg, 28); ok {
		w.HeadCount = v
	}

	layer := func(number uint32) (Layer, error) {
		msg, ok, err := firstSubmessage(weightsMsg, number)
		if err != nil || !ok {
			return Layer{}, err
		}
		return parseLayer(msg)
	}

	var lerr error
	assign := func(dst *Layer, number uint32) {
		if lerr != nil {
			return
		}
		l, err := layer(number)
		if err != nil {
			lerr = err
			return
		}
		*dst = l
	}
	assign(&w.IPEmbW, 25)
	assign(&w.IPEmbB, 26)
	assign(&w.IPMultGate, 33)
	assign(&w.IPAddGate, 34)
	assign(&w.SmolgenW, 35)
	assign(&w.IPValW, 29)
	assign(&w.IPValB, 30)
	assign(&w.IP1ValW, 7)
	assign(&w.IP1ValB, 8)
	assign(&w.IP2ValW, 9)
	assign(&w.IP2ValB, 10)
	if lerr != nil {
		return nil, lerr
	}
	w.HasSmolgenGlobal = len(w.SmolgenW.Values) > 0

	encMsgs, err := allSubmessages(weightsMsg, 27)
	if err != nil {
		return nil, err
	}
	w.Encoders = make([]EncoderLayer, len(encMsgs))
	for i, msg := range encMsgs {
		enc, err := parseEncoder(msg)
		if err != nil {
			return nil, fmt.Errorf("nn: encoder[%d]: %w", i, err)
		}
		w.Encoders[i] = enc
	}

	normalizeNetworkFormat(w)
	return w, nil
}

func varintField(data []byte, number uint32) (int, bool, error) {
	f, ok, err := firstField(data, number, wireVarint)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int(f.varint), true, nil
}

func parsePackedVarints(data []byte) ([]uint32, error) {
	var out []uint32
	offset := 0
	for offset < len(data) {
		v, next, ok := readVarint(data, offset)
		if !ok {
			return nil, fmt.Errorf("nn: invalid packed varint stream")
		}
		out = append(out, uint32(v))
		offset = next
	}
	return out, nil
}

func parseLayer(msg []byte) (Layer, error) {
	var l Layer
	var params []byte

	offset := 0
	for {
		f, next, ok, err := nextField(msg, offset)
		if err != nil {
			return Layer{}, err
		}
		if !ok {
			break
		}
		offset = next
		switch {
		case f.number == 1 && f.wireType == wireFixed32:
			l.Min = math.Float32frombits(f.fixed32)
		case f.number == 2 && f.wireType == wireFixed32:
			l.Max = math.Float32frombits(f.fixed32)
		case f.number == 3 && f.wireType == wireLengthDelim:
			params = f.bytes
		case f.number == 4 && f.wireType == wireVarint:
			l.Encoding = LayerEncoding(f.varint)
		case f.number == 5 && f.wireType == wireVarint:
			l.Dims = append(l.Dims, uint32(f.varint))
		case f.number == 5 && f.wireType == wireLengthDelim:
			dims, err := parsePackedVarints(f.bytes)
			if err != nil {
				return Layer{}, err
			}
			l.Dims = append(l.Dims, dims...)
		}
	}

	if l.Encoding == EncodingUnknown {
		l.Encoding = EncodingLinear16
	}
	if len(params) == 0 {
		return l, nil
	}

	switch l.Encoding {
	case EncodingLinear16:
		if len(params)&1 != 0 {
			return Layer{}, fmt.Errorf("nn: LINEAR16 layer has odd byte size")
		}
		n := len(params) / 2
		l.Values = make([]float32, n)
		lo, hi := l.Min, l.Max
		for i := 0; i < n; i++ {
			u := uint16(params[2*i]) | uint16(params[2*i+1])<<8
			theta := float32(u) / 65535.0
			l.Values[i] = lo*(1-theta) + hi*theta
		}
	case EncodingFloat16:
		if len(params)&1 != 0 {
			return Layer{}, fmt.Errorf("nn: FLOAT16 layer has odd byte size")
		}
		n := len(params) / 2
		l.Values = make([]float32, n)
		for i := 0; i < n; i++ {
			u := uint16(params[2*i]) | uint16(params[2*i+1])<<8
			l.Values[i] = fp16ToFloat32(u)
		}
	case EncodingBFloat16:
		if len(params)&1 != 0 {
			return Layer{}, fmt.Errorf("nn: BFLOAT16 layer has odd byte size")
		}
		n := len(params) / 2
		l.Values = make([]float32, n)
		for i := 0; i < n; i++ {
			u := uint16(params[2*i]) | uint16(params[2*i+1])<<8
			l.Values[i] = bf16ToFloat32(u)
		}
	case EncodingFloat32:
		if len(params)&3 != 0 {
			return Layer{}, fmt.Errorf("nn: FLOAT32 layer byte size is not a multiple of 4")
		}
		n := len(params) / 4
		l.Values = make([]float32, n)
		for i := 0; i < n; i++ {
			u := readU32LE(params[4*i:])
			l.Values[i] = math.Float32frombits(u)
		}
	default:
		return Layer{}, fmt.Errorf("nn: unsupported layer encoding %d", l.Encoding)
	}
	return l, nil
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x03ff

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign
	case exp == 0:
		m := mant
		e := -14
		for m&0x0400 == 0 {
			m <<= 1
			e--
		}
		m &= 0x03ff
		bits = sign | uint32(e+127)<<23 | m<<13
	case exp == 0x1f:
		bits = sign | 0x7f800000 | mant<<13
	default:
		e := exp + (127 - 15)
		bits = sign | e<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

func bf16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

func parseSmolgen(msg []byte) (Smolgen, error) {
	s := Smolgen{Present: true}
	subs := []struct {
		num uint32
		dst *Layer
	}{
		{1, &s.Compress}, {2, &s.Dense1W}, {3, &s.Dense1B},
		{4, &s.LN1G}, {5, &s.LN1B}, {6, &s.Dense2W}, {7, &s.Dense2B},
		{8, &s.LN2G}, {9, &s.LN2B},
	}
	for _, sub := range subs {
		if m, ok, err := firstSubmessage(msg, sub.num); err != nil {
			return Smolgen{}, err
		} else if ok {
			l, err := parseLayer(m)
			if err != nil {
				return Smolgen{}, err
			}
			*sub.dst = l
		}
	}
	return s, nil
}

func parseMHA(msg []byte) (MHA, error) {
	var m MHA
	subs := []struct {
		num uint32
		dst *Layer
	}{
		{1, &m.QW}, {2, &m.QB}, {3, &m.KW}, {4, &m.KB},
		{5, &m.VW}, {6, &m.VB}, {7, &m.DenseW}, {8, &m.DenseB},
	}
	for _, sub := range subs {
		if sm, ok, err := firstSubmessage(msg, sub.num); err != nil {
			return MHA{}, err
		} else if ok {
			l, err := parseLayer(sm)
			if err != nil {
				return MHA{}, err
			}
			*sub.dst = l
		}
	}
	if sm, ok, err := firstSubmessage(msg, 9); err != nil {
		return MHA{}, err
	} else if ok {
		sg, err := parseSmolgen(sm)
		if err != nil {
			return MHA{}, err
		}
		m.Smolgen = sg
	}
	return m, nil
}

func parseFFN(msg []byte) (FFN, error) {
	var f FFN
	subs := []struct {
		num uint32
		dst *Layer
	}{{1, &f.Dense1W}, {2, &f.Dense1B}, {3, &f.Dense2W}, {4, &f.Dense2B}}
	for _, sub := range subs {
		if sm, ok, err := firstSubmessage(msg, sub.num); err != nil {
			return FFN{}, err
		} else if ok {
			l, err := parseLayer(sm)
			if err != nil {
				return FFN{}, err
			}
			*sub.dst = l
		}
	}
	return f, nil
}

func parseEncoder(msg []byte) (EncoderLayer, error) {
	var e EncoderLayer
	if sm, ok, err := firstSubmessage(msg, 1); err != nil {
		return EncoderLayer{}, err
	} else if ok {
		mha, err := parseMHA(sm)
		if err != nil {
			return EncoderLayer{}, err
		}
		e.MHA = mha
	}
	layerSubs := []struct {
		num uint32
		dst *Layer
	}{{2, &e.LN1G}, {3, &e.LN1B}, {5, &e.LN2G}, {6, &e.LN2B}}
	for _, sub := range layerSubs {
		if sm, ok, err := firstSubmessage(msg, sub.num); err != nil {
			return EncoderLayer{}, err
		} else if ok {
			l, err := parseLayer(sm)
			if err != nil {
				return EncoderLayer{}, err
			}
			*sub.dst = l
		}
	}
	if sm, ok, err := firstSubmessage(msg, 4); err != nil {
		return EncoderLayer{}, err
	} else if ok {
		ffn, err := parseFFN(sm)
		if err != nil {
			return EncoderLayer{}, err
		}
		e.FFN = ffn
	}
	return e, nil
}

// normalizeNetworkFormat promotes legacy network-structure codes to the
// attention-body convention and infers activations spec.md §4.7.1 requires
// when the protobuf omits them.
func normalizeNetworkFormat(w *Weights) {
	nf := &w.Format

	switch {
	case !nf.HasNetworkFormat:
		nf.InputFormat = 1
		nf.OutputFormat = 1
		nf.NetworkStructure = 3
		nf.ValueFormat = 1
		nf.PolicyFormat = 1
	case nf.NetworkStructure == 1:
		nf.NetworkStructure = 3
		nf.ValueFormat = 1
		nf.PolicyFormat = 1
	case nf.NetworkStructure == 2:
		nf.NetworkStructure = 4
		nf.ValueFormat = 1
		nf.PolicyFormat = 1
	case nf.NetworkStructure == 4 && len(w.Encoders) > 0:
		nf.NetworkStructure = 6
		if w.HasSmolgenGlobal {
			nf.FFNActivation = int(ActivationReLU2)
			nf.SmolgenActivation = int(ActivationSwish)
			nf.HasFFNActivation = true
			nf.HasSmolgenActivation = true
		}
	case nf.NetworkStructure == 134:
		nf.NetworkStructure = 7
	}

	if nf.NetworkStructure == 6 && !nf.HasInputEmbedding {
		nf.InputEmbedding = 1 // INPUT_EMBEDDING_PE_MAP
		nf.HasInputEmbedding = true
	}
}

func layerOutputSize(w, b Layer, name string) (int, error) {
	out := len(b.Values)
	if out <= 0 {
		return 0, fmt.Errorf("nn: %s: bias vector is empty", name)
	}
	if len(w.Values) == 0 {
		return 0, fmt.Errorf("nn: %s: weight vector is empty", name)
	}
	if len(w.Values)%out != 0 {
		return 0, fmt.Errorf("nn: %s: weight size %d not divisible by output size %d", name, len(w.Values), out)
	}
	return out, nil
}

func layerInputSize(w, b Layer, name string) (int, error) {
	out, err := layerOutputSize(w, b, name)
	if err != nil {
		return 0, err
	}
	return len(w.Values) / out, nil
}

// ValidateAttentionValueShapes rejects any network whose shapes don't match
// spec.md §4.7.1's requirements; strict additionally pins the well-known T1
// net's encoder count, embedding size and head count.
func ValidateAttentionValueShapes(w *Weights, strict bool) error {
	if w.Format.InputFormat != 1 {
		return fmt.Errorf("nn: input format must be classical 112-plane (1)")
	}
	if w.Format.ValueFormat != 2 {
		return fmt.Errorf("nn: value format must be WDL (2)")
	}
	if w.Format.NetworkStructure != 6 && w.Format.NetworkStructure != 7 {
		return fmt.Errorf("nn: network structure must be attention-body after normalization")
	}

	embedding := len(w.IPEmbB.Values)
	if embedding <= 0 {
		return fmt.Errorf("nn: ip_emb_b is empty")
	}
	if w.HeadCount <= 0 {
		return fmt.Errorf("nn: headcount must be > 0")
	}
	if embedding%w.HeadCount != 0 {
		return fmt.Errorf("nn: embedding size %d not divisible by headcount %d", embedding, w.HeadCount)
	}

	ipEmbIn, err := layerInputSize(w.IPEmbW, w.IPEmbB, "ip_emb")
	if err != nil {
		return err
	}
	if ipEmbIn != 176 {
		return fmt.Errorf("nn: ip_emb input size expected 176, got %d", ipEmbIn)
	}

	if len(w.Encoders) == 0 {
		return fmt.Errorf("nn: encoder list is empty")
	}
	if strict {
		if len(w.Encoders) != 10 {
			return fmt.Errorf("nn: expected 10 encoders for the strict T1 shape, got %d", len(w.Encoders))
		}
		if embedding != 256 {
			return fmt.Errorf("nn: expected embedding 256 for the strict T1 shape, got %d", embedding)
		}
		if w.HeadCount != 8 {
			return fmt.Errorf("nn: expected headcount 8 for the strict T1 shape, got %d", w.HeadCount)
		}
	}

	for i, e := range w.Encoders {
		p := fmt.Sprintf("encoder[%d]", i)
		qOut, err := layerOutputSize(e.MHA.QW, e.MHA.QB, p+".q")
		if err != nil {
			return err
		}
		qIn, err := layerInputSize(e.MHA.QW, e.MHA.QB, p+".q")
		if err != nil {
			return err
		}
		kOut, err := layerOutputSize(e.MHA.KW, e.MHA.KB, p+".k")
		if err != nil {
			return err
		}
		vOut, err := layerOutputSize(e.MHA.VW, e.MHA.VB, p+".v")
		if err != nil {
			return err
		}
		dOut, err := layerOutputSize(e.MHA.DenseW, e.MHA.DenseB, p+".dense")
		if err != nil {
			return err
		}
		dIn, err := layerInputSize(e.MHA.DenseW, e.MHA.DenseB, p+".dense")
		if err != nil {
			return err
		}
		if qIn != embedding || qOut != embedding || kOut != embedding || vOut != embedding {
			return fmt.Errorf("nn: %s: MHA projection dimensions must all be embedding-sized", p)
		}
		if dIn != embedding || dOut != embedding {
			return fmt.Errorf("nn: %s: MHA output projection must be embedding->embedding", p)
		}

		f1Out, err := layerOutputSize(e.FFN.Dense1W, e.FFN.Dense1B, p+".ffn1")
		if err != nil {
			return err
		}
		f1In, err := layerInputSize(e.FFN.Dense1W, e.FFN.Dense1B, p+".ffn1")
		if err != nil {
			return err
		}
		f2Out, err := layerOutputSize(e.FFN.Dense2W, e.FFN.Dense2B, p+".ffn2")
		if err != nil {
			return err
		}
		f2In, err := layerInputSize(e.FFN.Dense2W, e.FFN.Dense2B, p+".ffn2")
		if err != nil {
			return err
		}
		if f1In != embedding || f2Out != embedding || f2In != f1Out {
			return fmt.Errorf("nn: %s: FFN dimensions must be embedding->dff->embedding", p)
		}

		if e.MHA.Smolgen.Present && len(w.SmolgenW.Values) == 0 {
			return fmt.Errorf("nn: %s: smolgen present but global smolgen_w missing", p)
		}
	}

	valTokOut, err := layerOutputSize(w.IPValW, w.IPValB, "ip_val")
	if err != nil {
		return err
	}
	valTokIn, err := layerInputSize(w.IPValW, w.IPValB, "ip_val")
	if err != nil {
		return err
	}
	if valTokIn != embedding {
		return fmt.Errorf("nn: ip_val input must equal embedding")
	}

	val1Out, err := layerOutputSize(w.IP1ValW, w.IP1ValB, "ip1_val")
	if err != nil {
		return err
	}
	val1In, err := layerInputSize(w.IP1ValW, w.IP1ValB, "ip1_val")
	if err != nil {
		return err
	}
	if val1In != valTokOut*64 {
		return fmt.Errorf("nn: ip1_val input must equal 64 * ip_val output")
	}

	val2Out, err := layerOutputSize(w.IP2ValW, w.IP2ValB, "ip2_val")
	if err != nil {
		return err
	}
	val2In, err := layerInputSize(w.IP2ValW, w.IP2ValB, "ip2_val")
	if err != nil {
		return err
	}
	if val2In != val1Out {
		return fmt.Errorf("nn: ip2_val input must equal ip1_val output")
	}
	if val2Out != 3 {
		return fmt.Errorf("nn: WDL head output size must be exactly 3")
	}

	return nil
}
