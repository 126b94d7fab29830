// internal/adapter/adapter.go
package adapter

import (
	"DealerWatch/internal/interfaces"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ========== 全局工厂函数注册表（抓取器在 init 中注册） ==========
var factoryRegistry = make(map[string]interfaces.Factory)

// Register 供抓取器 init 函数调用，注册工厂函数
func Register(source string, factory interfaces.Factory) {
	if factory == nil {
		panic(fmt.Sprintf("抓取器%s的工厂函数不能为nil", source))
	}
	if _, exists := factoryRegistry[source]; exists {
		logrus.Warnf("抓取器%s已注册，将覆盖原有实现", source)
	}
	factoryRegistry[source] = factory
}

// GetFactory 获取指定抓取器的工厂函数
func GetFactory(source string) (interfaces.Factory, bool) {
	factory, ok := factoryRegistry[source]
	return factory, ok
}

// ListFactories 列出所有已注册的抓取器（有序）
func ListFactories() []string {
	sources := make([]string, 0, len(factoryRegistry))
	for s := range factoryRegistry {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}
