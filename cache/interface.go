package cache

// Interface is the public API of a fixed-size cache keyed by string.
type Interface[V any] interface {
	Put(key string, value V)
	Get(key string) (value V, ok bool)
	Remove(key string) bool
	Clear()
	GetHitRate() float64
	Len() int
}
