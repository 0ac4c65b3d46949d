package persona

// Store 为 HTTP 处理器和引擎提供角色查询
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore 基于内存切片实现 Store
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore 返回预置了给定角色的 MemoryStore
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List 返回预定义角色列表
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID 根据ID查找角色
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Resolve 返回 id 对应的角色，找不到时退回默认角色，再退回第一个预置角色
func Resolve(s Store, id string) Persona {
	if s == nil {
		return Seed()[0]
	}
	if p, ok := s.FindByID(id); ok {
		return p
	}
	if p, ok := s.FindByID(DefaultID); ok {
		return p
	}
	if items := s.List(); len(items) > 0 {
		return items[0]
	}
	return Seed()[0]
}
