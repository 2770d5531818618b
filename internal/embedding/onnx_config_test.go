package embedding

import (
	"reflect"
	"testing"
)

func TestONNXConfig_withDefaults(t *testing.T) {
	c := ONNXConfig{BatchSize: 500}.withDefaults()
	if c.MaxTokens != 256 || c.BatchSize != maxONNXBatch || c.OutputName != OutputPooled {
		t.Errorf("defaults = %+v", c)
	}
	c = ONNXConfig{MaxTokens: 64, BatchSize: 4, OutputName: OutputLastHiddenState}.withDefaults()
	if c.MaxTokens != 64 || c.BatchSize != 4 || c.OutputName != OutputLastHiddenState {
		t.Errorf("explicit values changed: %+v", c)
	}
}

func TestMeanPool(t *testing.T) {
	// two rows, three tokens, dimension two
	states := []float32{
		1, 2, 3, 4, 100, 100,
		5, 5, 7, 7, 9, 9,
	}
	mask := []int64{
		1, 1, 0,
		1, 1, 1,
	}
	if got := meanPool(states, mask, 0, 3, 2); !reflect.DeepEqual(got, []float32{2, 3}) {
		t.Errorf("row 0 = %v, want [2 3]", got)
	}
	if got := meanPool(states, mask, 1, 3, 2); !reflect.DeepEqual(got, []float32{7, 7}) {
		t.Errorf("row 1 = %v, want [7 7]", got)
	}
	if got := meanPool(states, []int64{0, 0, 0, 0, 0, 0}, 0, 3, 2); !reflect.DeepEqual(got, []float32{0, 0}) {
		t.Errorf("masked row = %v, want zeros", got)
	}
}
