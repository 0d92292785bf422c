package dag

import (
	"errors"
	"fmt"
	"nebula/scheduler/model"
)

// MaxNodes 单个工作流允许的最大节点数
const MaxNodes = 1000

var ErrCycleDetected = errors.New("cycle detected in workflow dag")

// Graph 一个工作流内部的依赖图。纯内存结构，校验通过后调用方才落库
type Graph struct {
	nodes    map[uint]struct{}
	children map[uint][]uint //parent -> children
	parents  map[uint][]uint //child -> parents
}

// BuildGraph 从任务id和依赖边建图。边引用了不存在的节点、自环、超过节点上限都直接报错
func BuildGraph(jobIDs []uint, deps []*model.Dependency) (*Graph, error) {
	if len(jobIDs) > MaxNodes {
		return nil, fmt.Errorf("workflow has %d jobs, exceeds max %d", len(jobIDs), MaxNodes)
	}

	g := &Graph{
		nodes:    make(map[uint]struct{}, len(jobIDs)),
		children: make(map[uint][]uint),
		parents:  make(map[uint][]uint),
	}

	for _, id := range jobIDs {
		if id == 0 {
			return nil, errors.New("job id must be positive")
		}
		g.nodes[id] = struct{}{}
	}

	for _, dep := range deps {
		if err := g.addEdge(dep.ParentJobID, dep.JobID); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Graph) addEdge(parent, child uint) error {
	if parent == child {
		return fmt.Errorf("self dependency on job %d", parent)
	}
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("dependency references unknown parent job %d", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("dependency references unknown job %d", child)
	}

	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
	return nil
}

// Validate 全图校验无环。有环返回ErrCycleDetected
func (g *Graph) Validate() error {
	if g.HasCycle() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle Kahn算法：入度剥洋葱，剥不完说明有环
func (g *Graph) HasCycle() bool {
	if len(g.nodes) == 0 {
		return false
	}

	inDegree := make(map[uint]int, len(g.nodes))
	for node := range g.nodes {
		inDegree[node] = len(g.parents[node])
	}

	queue := make([]uint, 0, len(g.nodes))
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range g.children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	return visited != len(g.nodes)
}

// TopologicalSort 返回拓扑序。有环时报错
func (g *Graph) TopologicalSort() ([]uint, error) {
	inDegree := make(map[uint]int, len(g.nodes))
	for node := range g.nodes {
		inDegree[node] = len(g.parents[node])
	}

	queue := make([]uint, 0, len(g.nodes))
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]uint, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		for _, child := range g.children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return result, nil
}

// ValidateSingleInsert 校验新增一条边是否引入环。
// 不重建全图：从新边的child出发DFS，能走回parent才有环，只遍历可达子图
func (g *Graph) ValidateSingleInsert(dep *model.Dependency) error {
	parent, child := dep.ParentJobID, dep.JobID
	if parent == child {
		return ErrCycleDetected
	}
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("dependency references unknown parent job %d", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("dependency references unknown job %d", child)
	}

	visited := make(map[uint]struct{})
	stack := []uint{child}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == parent {
			return ErrCycleDetected
		}
		if _, ok := visited[node]; ok {
			continue
		}
		visited[node] = struct{}{}
		stack = append(stack, g.children[node]...)
	}
	return nil
}

// Roots 入度为0的节点
func (g *Graph) Roots() []uint {
	ret := make([]uint, 0)
	for node := range g.nodes {
		if len(g.parents[node]) == 0 {
			ret = append(ret, node)
		}
	}
	return ret
}

func (g *Graph) Parents(jobID uint) []uint {
	return g.parents[jobID]
}

func (g *Graph) Children(jobID uint) []uint {
	return g.children[jobID]
}

// Descendants 某节点的全部下游（不含自己）。kill传播和重跑闭包用
func (g *Graph) Descendants(jobID uint) []uint {
	visited := make(map[uint]struct{})
	stack := append([]uint{}, g.children[jobID]...)
	ret := make([]uint, 0)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[node]; ok {
			continue
		}
		visited[node] = struct{}{}
		ret = append(ret, node)
		stack = append(stack, g.children[node]...)
	}
	return ret
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}
