package wxpay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clbanning/mxj"
	"github.com/google/uuid"
)

const (
	CodeSuccess = "SUCCESS" // 成功状态码
	CodeFail    = "FAIL"    // 失败状态码
)

// 网关时间均为东八区
var timezoneCST = time.FixedZone("CST", 8*3600)

// V 用于APIv2的扁平化参数
type V map[string]string

// Set 设置参数
func (v V) Set(key, value string) {
	v[key] = value
}

// Get 获取参数
func (v V) Get(key string) string {
	return v[key]
}

// Del 删除参数
func (v V) Del(key string) {
	delete(v, key)
}

// Has 判断参数是否存在
func (v V) Has(key string) bool {
	_, ok := v[key]

	return ok
}

// Encode 按 key 字典序拼接为 `k1=v1&k2=v2` 的形式（忽略 sign）
func (v V) Encode(sym, sep string, skipEmpty bool) string {
	if len(v) == 0 {
		return ""
	}

	keys := make([]string, 0, len(v))

	for k := range v {
		if k == "sign" {
			continue
		}

		if skipEmpty && len(v[k]) == 0 {
			continue
		}

		keys = append(keys, k)
	}

	sort.Strings(keys)

	var builder strings.Builder

	for _, k := range keys {
		if builder.Len() != 0 {
			builder.WriteString(sep)
		}

		builder.WriteString(k)
		builder.WriteString(sym)
		builder.WriteString(v[k])
	}

	return builder.String()
}

// Params 业务参数，允许嵌套（如 amount、payer、scene_info）
type Params map[string]any

// Set 设置参数，支持 `a.b.c` 形式的路径
func (p Params) Set(path string, value any) {
	keys := strings.Split(path, ".")
	m := p

	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			if pm, ok := m[k].(Params); ok {
				next = pm
			} else {
				next = make(map[string]any)
				m[k] = next
			}
		}

		m = next
	}

	m[keys[len(keys)-1]] = value
}

// Get 获取参数，支持 `a.b.c` 形式的路径
func (p Params) Get(path string) (any, bool) {
	var cur any = map[string]any(p)

	for _, k := range strings.Split(path, ".") {
		var m map[string]any

		switch v := cur.(type) {
		case map[string]any:
			m = v
		case Params:
			m = v
		default:
			return nil, false
		}

		val, ok := m[k]
		if !ok {
			return nil, false
		}

		cur = val
	}

	return cur, true
}

// String 获取字符串参数，数字等标量会被格式化；不存在时返回空字符串
func (p Params) String(path string) string {
	v, ok := p.Get(path)
	if !ok || v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, Params, []any:
		b, _ := json.Marshal(t)

		return string(b)
	}

	return fmt.Sprint(v)
}

// Clone 深拷贝（仅处理 map 层级）
func (p Params) Clone() Params {
	return cloneMap(p)
}

func cloneMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))

	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			c[k] = cloneMap(t)
		case Params:
			c[k] = Params(cloneMap(t))
		default:
			c[k] = v
		}
	}

	return c
}

// Nonce 生成32位随机字符串
func Nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FormatXML 将参数编码为APIv2的XML报文（CDATA，按 key 排序）
func FormatXML(v V) []byte {
	keys := make([]string, 0, len(v))

	for k := range v {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var builder strings.Builder

	builder.WriteString("<xml>")

	for _, k := range keys {
		builder.WriteString("<")
		builder.WriteString(k)
		builder.WriteString("><![CDATA[")
		builder.WriteString(strings.ReplaceAll(v[k], "]]>", "]]]]><![CDATA[>"))
		builder.WriteString("]]></")
		builder.WriteString(k)
		builder.WriteString(">")
	}

	builder.WriteString("</xml>")

	return []byte(builder.String())
}

// ParseXML 解析APIv2的XML报文（根节点名称不限）
func ParseXML(b []byte) (V, error) {
	m, err := mxj.NewMapXml(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if len(m) != 1 {
		return nil, fmt.Errorf("%w: xml must have exactly one root element", ErrParse)
	}

	v := make(V)

	for _, root := range m {
		fields, ok := root.(map[string]any)
		if !ok {
			// 空根节点
			return v, nil
		}

		for k, val := range fields {
			switch t := val.(type) {
			case string:
				v[k] = t
			case nil:
				v[k] = ""
			case map[string]any, []any:
				return nil, fmt.Errorf("%w: nested element <%s> is not supported", ErrParse, k)
			default:
				v[k] = fmt.Sprint(t)
			}
		}
	}

	return v, nil
}

// parseInt 解析网关返回的金额等整数字段，空值返回0
func parseInt(s string) int64 {
	if len(s) == 0 {
		return 0
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

// parseTime 将网关时间统一为 time.Time（APIv2为东八区时间，APIv3为RFC3339）
func parseTime(s string) time.Time {
	if len(s) == 0 {
		return time.Time{}
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}

	for _, layout := range []string{"20060102150405", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, timezoneCST); err == nil {
			return t
		}
	}

	return time.Time{}
}
