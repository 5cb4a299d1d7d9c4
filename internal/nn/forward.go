package nn

import (
	"fmt"
	"math"
)

// WDL is a forward pass's raw win/draw/loss probability triple, before the
// centipawn mapping in score.go.
type WDL struct {
	Win, Draw, Loss float32
}

// posEncoding is a 64x64 sinusoidal positional encoding, one 64-dim row per
// board square, added to the 112 board planes to form each token's 176
// input features. The pretrained network's own lookup table isn't part of
// this tree (only compiled weight files ship it); a fixed sinusoidal table
// is deterministic and, since ip_emb_w is trained end-to-end against
// whatever table pairs with it, is here as a placeholder wiring point until
// a real weight file's matching table is available.
var posEncoding [Squares][64]float32

func init() {
	const dim = 64
	for sq := 0; sq < Squares; sq++ {
		for i := 0; i < dim; i += 2 {
			freq := math.Pow(10000, float64(i)/float64(dim))
			angle := float64(sq) / freq
			posEncoding[sq][i] = float32(math.Sin(angle))
			if i+1 < dim {
				posEncoding[sq][i+1] = float32(math.Cos(angle))
			}
		}
	}
}

func activationFromRaw(v int) Activation {
	switch v {
	case 1:
		return ActivationMish
	case 2:
		return ActivationReLU
	case 3:
		return ActivationNone
	case 4:
		return ActivationTanh
	case 5:
		return ActivationSigmoid
	case 6:
		return ActivationSelu
	case 7:
		return ActivationSwish
	case 8:
		return ActivationReLU2
	case 9:
		return ActivationSoftmax
	default:
		return ActivationDefault
	}
}

func defaultActivation(w *Weights) Activation {
	if w.Format.DefaultActivation == 1 {
		return ActivationMish
	}
	return ActivationReLU
}

func resolveActivation(w *Weights, encoded int, hasSpecific bool) Activation {
	if !hasSpecific || encoded == 0 {
		return defaultActivation(w)
	}
	return activationFromRaw(encoded)
}

// layerNormSkip applies data = data*alpha (+skip), then row-wise layer
// normalization with the given gamma/beta, in place.
func layerNormSkip(data []float32, skip []float32, rows, channels int, alpha float32, gammas, betas Layer, eps float32, name string) error {
	if len(gammas.Values) != channels || len(betas.Values) != channels {
		return fmt.Errorf("nn: %s: ln gamma/beta size mismatch", name)
	}
	for r := 0; r < rows; r++ {
		var mean float32
		for c := 0; c < channels; c++ {
			idx := r*channels + c
			v := data[idx] * alpha
			if skip != nil {
				v += skip[idx]
			}
			data[idx] = v
			mean += v
		}
		mean /= float32(channels)

		var variance float32
		for c := 0; c < channels; c++ {
			idx := r*channels + c
			d := data[idx] - mean
			variance += d * d
		}
		variance /= float32(channels)

		inv := 1 / float32(math.Sqrt(float64(variance+eps)))
		for c := 0; c < channels; c++ {
			idx := r*channels + c
			data[idx] = betas.Values[c] + gammas.Values[c]*(data[idx]-mean)*inv
		}
	}
	return nil
}

func addSmolgenBias(backend LinearBackend, w *Weights, layer EncoderLayer, x []float32, embedding, heads int, scores []float32) error {
	sg := layer.MHA.Smolgen
	if !sg.Present {
		return nil
	}

	compressed, err := backend.FCRowsNoBias(x, Squares, embedding, sg.Compress, ActivationNone, "smolgen.compress")
	if err != nil {
		return err
	}
	hiddenChannels := len(compressed) / Squares

	dense1Act := resolveActivation(w, w.Format.SmolgenActivation, w.Format.HasSmolgenActivation)
	dense1, err := backend.FCRows(compressed, 1, Squares*hiddenChannels, sg.Dense1W, sg.Dense1B, dense1Act, "smolgen.dense1")
	if err != nil {
		return err
	}
	if err := layerNormSkip(dense1, nil, 1, len(dense1), 1.0, sg.LN1G, sg.LN1B, 1e-3, "smolgen.ln1"); err != nil {
		return err
	}

	dense2, err := backend.FCRows(dense1, 1, len(dense1), sg.Dense2W, sg.Dense2B, dense1Act, "smolgen.dense2")
	if err != nil {
		return err
	}
	if err := layerNormSkip(dense2, nil, 1, len(dense2), 1.0, sg.LN2G, sg.LN2B, 1e-3, "smolgen.ln2"); err != nil {
		return err
	}

	if len(w.SmolgenW.Values) == 0 {
		return fmt.Errorf("nn: global smolgen_w is empty while encoder smolgen is present")
	}

	perHead := len(dense2) / heads
	if perHead <= 0 || perHead*heads != len(dense2) {
		return fmt.Errorf("nn: smolgen dense2 size is not divisible by headcount")
	}

	smolgenOut, err := inferOutDimNoBias(w.SmolgenW, perHead, "global smolgen_w")
	if err != nil {
		return err
	}
	if smolgenOut != Squares*Squares {
		return fmt.Errorf("nn: global smolgen_w output must be %d", Squares*Squares)
	}

	for h := 0; h < heads; h++ {
		inHead := dense2[h*perHead : h*perHead+perHead]
		outHead, err := backend.FCRowsNoBias(inHead, 1, perHead, w.SmolgenW, ActivationNone, "global smolgen apply")
		if err != nil {
			return err
		}
		for q := 0; q < Squares; q++ {
			for k := 0; k < Squares; k++ {
				scores[h*Squares*Squares+q*Squares+k] += outHead[q*Squares+k]
			}
		}
	}
	return nil
}

// ForwardAttentionValue runs the full attention-body transformer over a
// board's 112-plane input and returns the raw WDL probabilities.
func ForwardAttentionValue(backend LinearBackend, w *Weights, input Planes112) (WDL, error) {
	if err := ValidateAttentionValueShapes(w, false); err != nil {
		return WDL{}, err
	}

	embedding := len(w.IPEmbB.Values)
	heads := w.HeadCount
	depth := embedding / heads

	tokenIn := make([]float32, Squares*176)
	for sq := 0; sq < Squares; sq++ {
		row := tokenIn[sq*176 : sq*176+176]
		for p := 0; p < InputPlanes; p++ {
			row[p] = input[p*Squares+sq]
		}
		copy(row[112:176], posEncoding[sq][:])
	}

	x, err := backend.FCRows(tokenIn, Squares, 176, w.IPEmbW, w.IPEmbB, defaultActivation(w), "ip_emb")
	if err != nil {
		return WDL{}, err
	}

	if len(w.IPMultGate.Values) > 0 && len(w.IPAddGate.Values) > 0 {
		if len(w.IPMultGate.Values) != embedding*Squares || len(w.IPAddGate.Values) != embedding*Squares {
			return WDL{}, fmt.Errorf("nn: input gating vectors must have embedding*64 values")
		}
		for sq := 0; sq < Squares; sq++ {
			for c := 0; c < embedding; c++ {
				xidx := sq*embedding + c
				gidx := c*Squares + sq
				x[xidx] = x[xidx]*w.IPMultGate.Values[gidx] + w.IPAddGate.Values[gidx]
			}
		}
	}

	alpha := float32(math.Pow(2.0*float64(len(w.Encoders)), -0.25))
	ffnAct := resolveActivation(w, w.Format.FFNActivation, w.Format.HasFFNActivation)
	scale := float32(1.0 / math.Sqrt(float64(depth)))

	for li := range w.Encoders {
		layer := w.Encoders[li]

		q, err := backend.FCRows(x, Squares, embedding, layer.MHA.QW, layer.MHA.QB, ActivationNone, "encoder.q")
		if err != nil {
			return WDL{}, err
		}
		k, err := backend.FCRows(x, Squares, embedding, layer.MHA.KW, layer.MHA.KB, ActivationNone, "encoder.k")
		if err != nil {
			return WDL{}, err
		}
		v, err := backend.FCRows(x, Squares, embedding, layer.MHA.VW, layer.MHA.VB, ActivationNone, "encoder.v")
		if err != nil {
			return WDL{}, err
		}

		scores := make([]float32, heads*Squares*Squares)
		if err := addSmolgenBias(backend, w, layer, x, embedding, heads, scores); err != nil {
			return WDL{}, err
		}

		for h := 0; h < heads; h++ {
			for qi := 0; qi < Squares; qi++ {
				row := scores[h*Squares*Squares+qi*Squares : h*Squares*Squares+qi*Squares+Squares]
				for ki := 0; ki < Squares; ki++ {
					var dot float32
					for d := 0; d < depth; d++ {
						c := h*depth + d
						dot += q[qi*embedding+c] * k[ki*embedding+c]
					}
					row[ki] += dot * scale
				}
				softmaxInPlace(row)
			}
		}

		attn := make([]float32, Squares*embedding)
		for h := 0; h < heads; h++ {
			for qi := 0; qi < Squares; qi++ {
				for ki := 0; ki < Squares; ki++ {
					a := scores[h*Squares*Squares+qi*Squares+ki]
					for d := 0; d < depth; d++ {
						c := h*depth + d
						attn[qi*embedding+c] += a * v[ki*embedding+c]
					}
				}
			}
		}

		proj, err := backend.FCRows(attn, Squares, embedding, layer.MHA.DenseW, layer.MHA.DenseB, ActivationNone, "encoder.proj")
		if err != nil {
			return WDL{}, err
		}
		if err := layerNormSkip(proj, x, Squares, embedding, alpha, layer.LN1G, layer.LN1B, 1e-6, "encoder.ln1"); err != nil {
			return WDL{}, err
		}
		x = proj

		ffn1, err := backend.FCRows(x, Squares, embedding, layer.FFN.Dense1W, layer.FFN.Dense1B, ffnAct, "encoder.ffn1")
		if err != nil {
			return WDL{}, err
		}
		dff := len(ffn1) / Squares

		ffn2, err := backend.FCRows(ffn1, Squares, dff, layer.FFN.Dense2W, layer.FFN.Dense2B, ActivationNone, "encoder.ffn2")
		if err != nil {
			return WDL{}, err
		}
		if err := layerNormSkip(ffn2, x, Squares, embedding, alpha, layer.LN2G, layer.LN2B, 1e-6, "encoder.ln2"); err != nil {
			return WDL{}, err
		}
		x = ffn2
	}

	valTokens, err := backend.FCRows(x, Squares, embedding, w.IPValW, w.IPValB, defaultActivation(w), "ip_val")
	if err != nil {
		return WDL{}, err
	}
	valPlanes := len(valTokens) / Squares

	val1, err := backend.FCRows(valTokens, 1, Squares*valPlanes, w.IP1ValW, w.IP1ValB, defaultActivation(w), "ip1_val")
	if err != nil {
		return WDL{}, err
	}

	val2, err := backend.FCRows(val1, 1, len(val1), w.IP2ValW, w.IP2ValB, ActivationNone, "ip2_val")
	if err != nil {
		return WDL{}, err
	}
	if len(val2) != 3 {
		return WDL{}, fmt.Errorf("nn: value head output must be 3 logits")
	}
	softmaxInPlace(val2)

	return WDL{Win: val2[0], Draw: val2[1], Loss: val2[2]}, nil
}
