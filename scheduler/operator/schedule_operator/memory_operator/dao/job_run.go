package dao

import (
	"nebula/scheduler/model"

	"github.com/google/btree"
)

type JobRun struct {
	model.JobRun
}

func FromModelJobRun(mJobRun *model.JobRun) *JobRun {
	return &JobRun{
		JobRun: *mJobRun,
	}
}

func (j *JobRun) ToModelJobRun() *model.JobRun {
	ret := new(model.JobRun)
	*ret = j.JobRun
	return ret
}

func (j *JobRun) Less(than btree.Item) bool {
	return j.NextRetryAt.Before(than.(*JobRun).NextRetryAt)
}
