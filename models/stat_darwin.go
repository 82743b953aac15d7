package models

import "golang.org/x/sys/unix"

func statCtime(stat *unix.Stat_t) unix.Timespec { return stat.Ctimespec }

func statMtime(stat *unix.Stat_t) unix.Timespec { return stat.Mtimespec }
