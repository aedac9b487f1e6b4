package models

import "encoding/json"

// BotState 是策略私有的可变状态。
// 引擎不解释其中的内容，只在命令成功后整体持久化。
type BotState map[string]any

// Clone 通过 JSON 序列化返回深拷贝，与存储层使用的格式一致
func (s BotState) Clone() BotState {
	if s == nil {
		return BotState{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return BotState{}
	}
	out := BotState{}
	if err := json.Unmarshal(data, &out); err != nil {
		return BotState{}
	}
	return out
}

// Decode 将 key 对应的值解码到 dst，key 不存在时返回 false
func (s BotState) Decode(key string, dst any) (bool, error) {
	v, ok := s[key]
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(data, dst)
}
