package server

import (
	"github.com/Trinoooo/vdshm/region"
)

// KeysData 一次发布后键盘槽位的内容
type KeysData struct {
	Keys  []region.KeyStroke   `json:"keys"`
	State region.KeyboardState `json:"state"`
	Seq   uint64               `json:"seq"`
}

// HandlePutKeys 经发布队列写入键盘槽位，返回实际写入的 8 字节
func (srv *Server) HandlePutKeys(req *Request) (*Response, error) {
	result, err := srv.channel.Produce(req.Keys)
	if err != nil {
		return nil, err
	}

	res := <-result
	if res.Err != nil {
		return nil, res.Err
	}
	return newSuccessResp(&KeysData{
		Keys:  req.Keys,
		State: res.State,
		Seq:   res.Seq,
	}), nil
}

// HandleGetKeys 最近一次被接受的按键列表与槽位当前内容
func (srv *Server) HandleGetKeys(_ *Request) (*Response, error) {
	state, seq, err := srv.region.ReadKeys()
	if err != nil {
		return nil, err
	}

	data := &KeysData{
		Keys:  []region.KeyStroke{},
		State: state,
		Seq:   seq,
	}
	if last := srv.lastKeys.Load(); last != nil {
		data.Keys = *last
	}
	return newSuccessResp(data), nil
}

func (srv *Server) HandleGetRegion(_ *Request) (*Response, error) {
	stats, err := srv.region.Inspect()
	if err != nil {
		return nil, err
	}
	return newSuccessResp(stats), nil
}
