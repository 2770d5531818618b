//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/shiryo/pkg/utils"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// ONNXEmbedder runs a sentence-embedding model through ONNX Runtime. Inputs are bound once
// with a fixed [batch, maxTokens] shape, so calls are serialized and short batches are padded.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	batch      int
	meanPool   bool
	modelID    string

	inputIDs  *ort.Tensor[int64]
	mask      *ort.Tensor[int64]
	typeIDs   *ort.Tensor[int64]
	output    *ort.Tensor[float32]
	allocated []interface{ Destroy() error }
}

// NewONNXEmbedder loads cfg.ModelPath. The runtime environment is initialized once per process.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder needs a positive dimension")
	}
	ortInit.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInitErr)
	}

	e := &ONNXEmbedder{
		tokenizer:  HashTokenizer{VocabSize: DefaultVocabSize},
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		batch:      cfg.BatchSize,
		meanPool:   cfg.OutputName == OutputLastHiddenState,
		modelID:    "onnx:" + strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath)),
	}
	inShape := ort.NewShape(int64(e.batch), int64(e.maxTokens))
	var err error
	if e.inputIDs, err = ort.NewTensor(inShape, make([]int64, e.batch*e.maxTokens)); err != nil {
		return nil, e.fail("input_ids tensor", err)
	}
	e.allocated = append(e.allocated, e.inputIDs)
	if e.mask, err = ort.NewTensor(inShape, make([]int64, e.batch*e.maxTokens)); err != nil {
		return nil, e.fail("attention_mask tensor", err)
	}
	e.allocated = append(e.allocated, e.mask)
	if e.typeIDs, err = ort.NewTensor(inShape, make([]int64, e.batch*e.maxTokens)); err != nil {
		return nil, e.fail("token_type_ids tensor", err)
	}
	e.allocated = append(e.allocated, e.typeIDs)

	outShape := ort.NewShape(int64(e.batch), int64(e.dimensions))
	outLen := e.batch * e.dimensions
	if e.meanPool {
		outShape = ort.NewShape(int64(e.batch), int64(e.maxTokens), int64(e.dimensions))
		outLen = e.batch * e.maxTokens * e.dimensions
	}
	if e.output, err = ort.NewTensor(outShape, make([]float32, outLen)); err != nil {
		return nil, e.fail("output tensor", err)
	}
	e.allocated = append(e.allocated, e.output)

	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{e.inputIDs, e.mask, e.typeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		return nil, e.fail("session", err)
	}
	return e, nil
}

func (e *ONNXEmbedder) fail(what string, err error) error {
	_ = e.Close()
	return fmt.Errorf("failed to create ONNX %s: %w", what, err)
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstOrError(e.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch runs texts through the model in groups of the configured batch size.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batch, len(texts))
		vecs, err := e.run(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// run fills the bound input tensors with group (padding unused rows) and returns one
// normalized vector per text.
func (e *ONNXEmbedder) run(group []string) ([][]float32, error) {
	ids, mask, types := e.inputIDs.GetData(), e.mask.GetData(), e.typeIDs.GetData()
	for row := 0; row < e.batch; row++ {
		text := ""
		if row < len(group) {
			text = group[row]
		}
		enc := e.tokenizer.Encode(text, e.maxTokens)
		off := row * e.maxTokens
		copy(ids[off:off+e.maxTokens], enc.IDs)
		copy(mask[off:off+e.maxTokens], enc.AttentionMask)
		copy(types[off:off+e.maxTokens], enc.TypeIDs)
	}
	if err := e.session.Run(); err != nil {
		return nil, err
	}
	data := e.output.GetData()
	vecs := make([][]float32, len(group))
	for row := range group {
		if e.meanPool {
			vecs[row] = meanPool(data, mask, row, e.maxTokens, e.dimensions)
		} else {
			vecs[row] = append([]float32(nil), data[row*e.dimensions:(row+1)*e.dimensions]...)
		}
		utils.NormalizeL2(vecs[row])
	}
	return vecs, nil
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns "onnx:<model file stem>".
func (e *ONNXEmbedder) ModelID() string {
	return e.modelID
}

// Close destroys the session and its tensors. It is safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range e.allocated {
		_ = t.Destroy()
	}
	e.allocated = nil
	return err
}
