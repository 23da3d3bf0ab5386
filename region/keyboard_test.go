package region

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCode(t *testing.T) {
	testList := []struct {
		code   string
		expect byte
		ok     bool
	}{
		{"a", 97, true},
		{"Z", 90, true},
		{" ", 32, true},
		{"é", 0xe9, true},
		{"ÿ", 0xff, true},
		{"", 0, false},
		{"Shift", 0, false},
		{"ab", 0, false},
		{"\x00", 0, false},
		{"€", 0, false},
		{"\xff", 0, false},
	}

	for _, item := range testList {
		code, ok := KeyCode(item.code)
		assert.Equal(t, item.ok, ok, item.code)
		assert.Equal(t, item.expect, code, item.code)
	}
}

func strokes(codes ...string) []KeyStroke {
	keys := make([]KeyStroke, 0, len(codes))
	for i, c := range codes {
		keys = append(keys, KeyStroke{Code: c, Timestamp: int64(i)})
	}
	return keys
}

// TestEncodeKeys 不超过 8 个合法按键时原样保序，补 0
func TestEncodeKeys(t *testing.T) {
	r := rand.New(rand.NewSource(2001))
	for round := 0; round < 200; round++ {
		n := r.Intn(KeyboardCapacity + 1)
		codes := make([]string, 0, n)
		expect := KeyboardState{}
		for i := 0; i < n; i++ {
			b := byte(r.Intn(0x7f-0x21) + 0x21)
			codes = append(codes, string(rune(b)))
			expect[i] = b
		}
		assert.Equal(t, expect, EncodeKeys(strokes(codes...)))
	}
}

// TestEncodeKeysOverflow 超过 8 个时只保留前 8 个
func TestEncodeKeysOverflow(t *testing.T) {
	state := EncodeKeys(strokes("1", "2", "3", "4", "5", "6", "7", "8", "9", "0"))
	assert.Equal(t, KeyboardState{'1', '2', '3', '4', '5', '6', '7', '8'}, state)
}

// TestEncodeKeysMalformed 不可表示的按键被跳过，合法按键紧凑排列
func TestEncodeKeysMalformed(t *testing.T) {
	state := EncodeKeys(strokes("Shift", "a", "", "€", "b", "Enter"))
	assert.Equal(t, KeyboardState{'a', 'b'}, state)
	assert.Equal(t, []byte("ab"), state.Keys())

	// 第 9 个及之后的输入即使前面有非法按键也不会补进来
	state = EncodeKeys(strokes("Shift", "1", "2", "3", "4", "5", "6", "7", "8", "9"))
	assert.Equal(t, KeyboardState{'1', '2', '3', '4', '5', '6', '7'}, state)
	assert.NotContains(t, state.Keys(), byte('8'))

	state = EncodeKeys(strokes("Shift", "Alt", "Ctrl", "Tab", "Esc", "Up", "Down", "Left", "x"))
	assert.Empty(t, state.Keys())
}

// TestKeyboardRoundTrip 创建 vdshm，发布 a、b，读回 [97 98 0 0 0 0 0 0]
func TestKeyboardRoundTrip(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	published, seq, err := r.PublishKeys([]KeyStroke{{Code: "a", Timestamp: 1}, {Code: "b", Timestamp: 2}})
	require.Nil(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, KeyboardState{97, 98, 0, 0, 0, 0, 0, 0}, published)

	state, readSeq, err := r.ReadKeys()
	require.Nil(t, err)
	assert.Equal(t, seq, readSeq)
	assert.Equal(t, [8]byte{97, 98, 0, 0, 0, 0, 0, 0}, [8]byte(state))
	assert.Equal(t, []byte{97, 98, 0, 0, 0, 0, 0, 0}, []byte(r.mem[offsetToKeyboardState:offsetToKeyboardState+KeyboardCapacity]))

	// 新状态整体覆盖旧状态
	_, _, err = r.PublishKeys(strokes("c"))
	require.Nil(t, err)
	state, _, err = r.ReadKeys()
	require.Nil(t, err)
	assert.Equal(t, KeyboardState{'c'}, state)

	// 全部非法也是一次成功的发布，结果为空
	_, _, err = r.PublishKeys(strokes("Shift", "Alt"))
	require.Nil(t, err)
	state, _, err = r.ReadKeys()
	require.Nil(t, err)
	assert.Empty(t, state.Keys())
}

// TestKeyboardConcurrent 读者只会看到某一次完整发布的状态
func TestKeyboardConcurrent(t *testing.T) {
	opts := testOptions(t).SetReadRetries(1 << 20)
	writer, err := Create("vdshm", Size, opts)
	require.Nil(t, err)
	defer writer.Destroy()

	reader, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer reader.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20000; i++ {
			b := byte(i%200 + 1)
			var state KeyboardState
			for j := range state {
				state[j] = b
			}
			_, _ = writer.PublishKeyboardState(state)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		state, _, err := reader.ReadKeys()
		require.Nil(t, err)
		for _, k := range state {
			assert.Equal(t, state[0], k)
		}
	}
}

// TestKeyboardTwoWriters 控制面板与控制台两个句柄同时写键盘槽位
func TestKeyboardTwoWriters(t *testing.T) {
	opts := testOptions(t).SetReadRetries(1 << 20)
	panel, err := Create("vdshm", Size, opts)
	require.Nil(t, err)
	defer panel.Destroy()

	console, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer console.Close()

	const rounds = 10000
	publish := func(r *Region, b byte, wg *sync.WaitGroup) {
		defer wg.Done()
		var state KeyboardState
		for j := range state {
			state[j] = b
		}
		for i := 0; i < rounds; i++ {
			_, err := r.PublishKeyboardState(state)
			assert.Nil(t, err)
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go publish(panel, 'p', wg)
	go publish(console, 'c', wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			state, seq, err := panel.ReadKeys()
			require.Nil(t, err)
			assert.Equal(t, uint64(4*rounds), seq)
			assert.Equal(t, bytes.Repeat(state[:1], KeyboardCapacity), state[:])
			return
		default:
		}

		state, _, err := panel.ReadKeys()
		require.Nil(t, err)
		assert.Equal(t, bytes.Repeat(state[:1], KeyboardCapacity), state[:])
	}
}
