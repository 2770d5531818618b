package embedding

// Output tensor names understood by the ONNX embedder.
const (
	// OutputPooled is a [batch, dim] sentence embedding.
	OutputPooled = "output"
	// OutputLastHiddenState is a [batch, tokens, dim] tensor that is mean-pooled.
	OutputLastHiddenState = "last_hidden_state"
)

// maxONNXBatch bounds the bound tensor batch dimension; larger requests are split.
const maxONNXBatch = 32

// ONNXConfig configures NewONNXEmbedder.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	BatchSize  int
	OutputName string
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.MaxTokens < 2 {
		c.MaxTokens = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.BatchSize > maxONNXBatch {
		c.BatchSize = maxONNXBatch
	}
	if c.OutputName == "" {
		c.OutputName = OutputPooled
	}
	return c
}

// meanPool averages the token states of row weighted by its attention mask.
func meanPool(states []float32, mask []int64, row, tokens, dim int) []float32 {
	vec := make([]float32, dim)
	var n float32
	for t := 0; t < tokens; t++ {
		if mask[row*tokens+t] == 0 {
			continue
		}
		n++
		base := (row*tokens + t) * dim
		for d := 0; d < dim; d++ {
			vec[d] += states[base+d]
		}
	}
	if n > 0 {
		for d := range vec {
			vec[d] /= n
		}
	}
	return vec
}
