package optmodel

type linkedListNode[T any] struct {
	value T
	next  *linkedListNode[T]
}

// queue is a FIFO backed by a singly linked list.
type queue[T any] struct {
	head *linkedListNode[T]
	tail *linkedListNode[T]
	size int
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{}
}

func (q *queue[T]) Push(e T) {
	newNode := &linkedListNode[T]{value: e}
	if q.size == 0 {
		q.head = newNode
		q.tail = newNode
	} else {
		q.tail.next = newNode
		q.tail = newNode
	}
	q.size++
}

func (q *queue[T]) Pop() T {
	if q.size == 0 {
		var zero T
		return zero
	}
	node := q.head
	q.head = q.head.next
	q.size--
	if q.size == 0 {
		q.tail = nil
	}
	return node.value
}

func (q *queue[T]) Size() int {
	return q.size
}
