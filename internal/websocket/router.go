// internal/websocket/router.go
package websocket

import (
	"encoding/json"
	"fmt"
	"reflect"

	"rewind/internal/checkpoint"
)

// paramDecoder 把 JSON 解码后的参数转换为一个领域类型
type paramDecoder func(param interface{}) (reflect.Value, error)

var (
	changeUnitType  = reflect.TypeOf(checkpoint.ChangeUnitID(""))
	changeUnitsType = reflect.TypeOf([]checkpoint.ChangeUnitID(nil))
	invocationType  = reflect.TypeOf(checkpoint.ToolInvocation{})
)

func defaultDecoders() map[reflect.Type]paramDecoder {
	return map[reflect.Type]paramDecoder{
		changeUnitType:  decodeChangeUnit,
		changeUnitsType: decodeChangeUnits,
		invocationType:  decodeInvocation,
	}
}

// Router 将 RPC 方法映射到 App 方法
type Router struct {
	app      interface{}
	methods  map[string]reflect.Method
	decoders map[reflect.Type]paramDecoder
}

// NewRouter 创建新的路由器
func NewRouter(app interface{}) *Router {
	r := &Router{
		app:      app,
		methods:  make(map[string]reflect.Method),
		decoders: defaultDecoders(),
	}

	// 通过反射获取所有公开方法
	appType := reflect.TypeOf(app)
	for i := 0; i < appType.NumMethod(); i++ {
		method := appType.Method(i)
		// 只注册公开方法（首字母大写）
		if method.IsExported() {
			r.methods[method.Name] = method
		}
	}

	return r
}

// Call 调用指定的 RPC 方法
func (r *Router) Call(methodName string, params []interface{}) (interface{}, error) {
	method, ok := r.methods[methodName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, methodName)
	}

	// 准备参数
	methodType := method.Type
	numIn := methodType.NumIn() - 1 // 减去 receiver

	if len(params) != numIn {
		return nil, fmt.Errorf("%w: %s expects %d params, got %d", ErrInvalidParams, methodName, numIn, len(params))
	}

	// 构建调用参数
	args := make([]reflect.Value, numIn+1)
	args[0] = reflect.ValueOf(r.app)

	for i, param := range params {
		expectedType := methodType.In(i + 1)
		paramValue, err := r.convertParam(param, expectedType)
		if err != nil {
			return nil, fmt.Errorf("%w: param %d: %v", ErrInvalidParams, i, err)
		}
		args[i+1] = paramValue
	}

	// 调用方法
	results := method.Func.Call(args)

	// 处理返回值
	return processResults(results)
}

// convertParam 将 JSON 解析的值转换为目标类型，领域类型走专用解码器
func (r *Router) convertParam(param interface{}, targetType reflect.Type) (reflect.Value, error) {
	if decode, ok := r.decoders[targetType]; ok {
		return decode(param)
	}

	if param == nil {
		return reflect.Zero(targetType), nil
	}

	paramValue := reflect.ValueOf(param)

	// 如果类型直接匹配，直接返回
	if paramValue.Type().AssignableTo(targetType) {
		return paramValue, nil
	}

	// 处理数字类型转换（JSON 数字默认是 float64）
	if paramValue.Kind() == reflect.Float64 {
		switch targetType.Kind() {
		case reflect.Int:
			return reflect.ValueOf(int(param.(float64))), nil
		case reflect.Int64:
			return reflect.ValueOf(int64(param.(float64))), nil
		case reflect.Int32:
			return reflect.ValueOf(int32(param.(float64))), nil
		case reflect.Uint:
			return reflect.ValueOf(uint(param.(float64))), nil
		case reflect.Uint32:
			return reflect.ValueOf(uint32(param.(float64))), nil
		case reflect.Uint64:
			return reflect.ValueOf(uint64(param.(float64))), nil
		}
	}

	// 尝试类型转换
	if paramValue.Type().ConvertibleTo(targetType) {
		return paramValue.Convert(targetType), nil
	}

	// 对象、数组等复合类型：重新编码后解码到目标类型
	data, err := json.Marshal(param)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", param, targetType, err)
	}
	target := reflect.New(targetType)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", param, targetType, err)
	}
	return target.Elem(), nil
}

// decodeChangeUnit 要求非空字符串
func decodeChangeUnit(param interface{}) (reflect.Value, error) {
	id, ok := param.(string)
	if !ok || id == "" {
		return reflect.Value{}, fmt.Errorf("change unit id must be a non-empty string, got %T", param)
	}
	return reflect.ValueOf(checkpoint.ChangeUnitID(id)), nil
}

// decodeChangeUnits 接受 null、单个 ID 或 ID 数组
func decodeChangeUnits(param interface{}) (reflect.Value, error) {
	var units []checkpoint.ChangeUnitID
	switch v := param.(type) {
	case nil:
	case string:
		if v == "" {
			return reflect.Value{}, fmt.Errorf("empty change unit id")
		}
		units = []checkpoint.ChangeUnitID{checkpoint.ChangeUnitID(v)}
	case []interface{}:
		for i, item := range v {
			id, ok := item.(string)
			if !ok || id == "" {
				return reflect.Value{}, fmt.Errorf("change unit %d must be a non-empty string, got %T", i, item)
			}
			units = append(units, checkpoint.ChangeUnitID(id))
		}
	default:
		return reflect.Value{}, fmt.Errorf("cannot convert %T to change unit list", param)
	}
	return reflect.ValueOf(units), nil
}

// decodeInvocation 解码工具调用信号。参数可以放在 params 或 input 中
func decodeInvocation(param interface{}) (reflect.Value, error) {
	raw, ok := param.(map[string]interface{})
	if !ok {
		return reflect.Value{}, fmt.Errorf("tool invocation must be an object, got %T", param)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	var inv checkpoint.ToolInvocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return reflect.Value{}, fmt.Errorf("tool invocation: %w", err)
	}
	if inv.Name == "" {
		return reflect.Value{}, fmt.Errorf("tool invocation without name")
	}
	if len(inv.Params) == 0 {
		if input, ok := raw["input"].(map[string]interface{}); ok {
			inv.Params = input
		}
	}
	return reflect.ValueOf(inv), nil
}

// processResults 处理方法返回值
func processResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		// 检查是否是 error
		if results[0].Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			if !results[0].IsNil() {
				return nil, results[0].Interface().(error)
			}
			return nil, nil
		}
		return results[0].Interface(), nil
	case 2:
		// 假设第二个是 error
		var err error
		if !results[1].IsNil() {
			err = results[1].Interface().(error)
		}
		if err != nil {
			return nil, err
		}
		return results[0].Interface(), nil
	default:
		// 多个返回值，返回数组
		var result []interface{}
		for i := 0; i < len(results)-1; i++ {
			result = append(result, results[i].Interface())
		}
		// 检查最后一个是否是 error
		last := results[len(results)-1]
		if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return result, nil
	}
}
