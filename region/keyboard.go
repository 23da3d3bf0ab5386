package region

import (
	"unicode/utf8"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/region/logs"
	"github.com/Trinoooo/vdshm/utils"
	"go.uber.org/zap"
)

// KeyStroke 控制面板收到的一次按键，Code 为按键字符
type KeyStroke struct {
	Code      string `json:"key_code"`
	Timestamp int64  `json:"timestamp"`
}

// KeyboardState 当前按下的键，每字节一个键码，0 表示空位
type KeyboardState [KeyboardCapacity]byte

// Keys 去掉空位后的键码
func (ks KeyboardState) Keys() []byte {
	keys := make([]byte, 0, KeyboardCapacity)
	for _, k := range ks {
		if k != 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// KeyCode 按键的单字节表示：恰好一个字符且码点落在 [1, 255]。
// "Shift" 之类的多字符键名、空串、超出单字节范围的字符都不可表示。
func KeyCode(code string) (byte, bool) {
	r, n := utf8.DecodeRuneInString(code)
	if n == 0 || n != len(code) || r == utf8.RuneError {
		return 0, false
	}
	if r < 1 || r > 0xff {
		return 0, false
	}
	return byte(r), true
}

// EncodeKeys 只看输入的前 8 个按键，跳过其中不可表示的，剩下的紧凑排列，其余位补 0
func EncodeKeys(keys []KeyStroke) KeyboardState {
	if len(keys) > KeyboardCapacity {
		keys = keys[:KeyboardCapacity]
	}

	var state KeyboardState
	n := 0
	for _, key := range keys {
		code, ok := KeyCode(key.Code)
		if !ok {
			logs.Debug("skip key", zap.String(consts.LogFieldValue, key.Code))
			continue
		}
		state[n] = code
		n++
	}
	return state
}

// PublishKeys 编码并发布按键，返回实际写入的状态与写入后的 seq
func (r *Region) PublishKeys(keys []KeyStroke) (KeyboardState, uint64, error) {
	state := EncodeKeys(keys)
	seq, err := r.PublishKeyboardState(state)
	return state, seq, err
}

// PublishKeyboardState 原样发布 8 字节键盘状态
func (r *Region) PublishKeyboardState(state KeyboardState) (uint64, error) {
	var seq uint64
	err := r.guard(func() error {
		return utils.WrapLock(&r.keyboardMu, func() error {
			var err error
			seq, err = r.keyboard.write(func() {
				copy(r.mem[offsetToKeyboardState:offsetToKeyboardState+KeyboardCapacity], state[:])
			})
			return err
		})
	})
	if err != nil {
		r.observeContended(slotKeyboard, err)
		return 0, err
	}

	r.metrics.publishCounter.WithLabelValues(slotKeyboard).Inc()
	return seq, nil
}

// ReadKeys 读取一致的键盘状态及其 seq，重试耗尽返回 Contended
func (r *Region) ReadKeys() (KeyboardState, uint64, error) {
	var (
		state KeyboardState
		seq   uint64
	)
	err := r.guard(func() error {
		var err error
		seq, err = r.keyboard.read(func() {
			copy(state[:], r.mem[offsetToKeyboardState:offsetToKeyboardState+KeyboardCapacity])
		})
		return err
	})
	if err != nil {
		r.observeContended(slotKeyboard, err)
		return KeyboardState{}, 0, err
	}
	return state, seq, nil
}
