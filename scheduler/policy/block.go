package policy

import (
	"fmt"

	"nebula/scheduler/constance"
	"nebula/scheduler/model"
)

type BlockAction int8

const (
	//直接派发
	BlockActionProceed BlockAction = iota
	//丢弃本次触发，置为Skipped
	BlockActionDiscard
	//先kill在途实例，再派发本次
	BlockActionCoverEarly
	//留在Ready队列，下个调度周期再看
	BlockActionWait
)

func (a BlockAction) String() string {
	switch a {
	case BlockActionProceed:
		return "BlockActionProceed"
	case BlockActionDiscard:
		return "BlockActionDiscard"
	case BlockActionCoverEarly:
		return "BlockActionCoverEarly"
	case BlockActionWait:
		return "BlockActionWait"
	default:
		return fmt.Sprintf("UnknownBlockAction%d", a)
	}
}

// BlockDecision 阻塞策略的裁决结果。Victims只在CoverEarly时非空
type BlockDecision struct {
	Action  BlockAction
	Victims []*model.JobRun
	Reason  string
}

// Decide 同一个Job已有在途实例（Dispatched/Running）时，决定新触发的实例怎么处理。
// activeRuns为空时永远Proceed
func Decide(strategy constance.BlockStrategyType, activeRuns []*model.JobRun) *BlockDecision {
	if len(activeRuns) == 0 {
		return &BlockDecision{Action: BlockActionProceed}
	}

	switch strategy {
	case constance.BlockStrategyTypeDiscardLater:
		return &BlockDecision{
			Action: BlockActionDiscard,
			Reason: fmt.Sprintf("discarded: %d earlier run(s) still active", len(activeRuns)),
		}
	case constance.BlockStrategyTypeCoverEarly:
		return &BlockDecision{
			Action:  BlockActionCoverEarly,
			Victims: activeRuns,
		}
	case constance.BlockStrategyTypeSerial:
		return &BlockDecision{
			Action: BlockActionWait,
			Reason: "serial execution, waiting for earlier run to finish",
		}
	default:
		//Concurrent或未配置
		return &BlockDecision{Action: BlockActionProceed}
	}
}
