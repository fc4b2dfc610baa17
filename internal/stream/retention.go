package stream

import "container/list"

// RetentionBuffer holds materialized entities nobody references any more.
// They stay live until a slot is needed, oldest offer reclaimed first.
// Callers offering several entities at once do so in ascending id order,
// which makes offer order the tie-break.
type RetentionBuffer struct {
	order *list.List // front = oldest
	at    map[EntityID]*list.Element
}

func NewRetentionBuffer() *RetentionBuffer {
	return &RetentionBuffer{
		order: list.New(),
		at:    make(map[EntityID]*list.Element, 256),
	}
}

// Offer appends id as the most recently released entity. Offering an id that
// is already buffered moves it to the back.
func (b *RetentionBuffer) Offer(id EntityID) {
	if el, ok := b.at[id]; ok {
		b.order.MoveToBack(el)
		return
	}
	b.at[id] = b.order.PushBack(id)
}

// Remove takes id out of the buffer, reporting whether it was there. O(1).
func (b *RetentionBuffer) Remove(id EntityID) bool {
	el, ok := b.at[id]
	if !ok {
		return false
	}
	b.order.Remove(el)
	delete(b.at, id)
	return true
}

// Reclaim pops up to count of the oldest entries. The caller dematerializes them.
func (b *RetentionBuffer) Reclaim(count int) []EntityID {
	if count <= 0 || b.order.Len() == 0 {
		return nil
	}
	out := make([]EntityID, 0, min(count, b.order.Len()))
	for len(out) < count {
		el := b.order.Front()
		if el == nil {
			break
		}
		id := b.order.Remove(el).(EntityID)
		delete(b.at, id)
		out = append(out, id)
	}
	return out
}

func (b *RetentionBuffer) Contains(id EntityID) bool {
	_, ok := b.at[id]
	return ok
}

func (b *RetentionBuffer) Len() int { return b.order.Len() }
