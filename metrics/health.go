/***************************************************************
 *
 * Copyright (C) 2023, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	// This is for API response so we want to display string representation of status
	ComponentStatus struct {
		Status     string `json:"status"`
		Message    string `json:"message,omitempty"`
		LastUpdate int64  `json:"last_update"`
	}

	componentStatusInternal struct {
		Status     HealthStatusEnum
		Message    string
		LastUpdate time.Time
	}

	HealthStatus struct {
		OverallStatus   string                     `json:"status"`
		ComponentStatus map[string]ComponentStatus `json:"components"`
	}

	HealthStatusEnum int

	HealthStatusComponent string
)

const (
	StatusCritical HealthStatusEnum = iota + 1
	StatusWarning
	StatusOK
	StatusUnknown // Do not abuse this enum. Use others when possible
)

const statusIndexErrorMessage = "Error: status string index out of range"

// Components reported on the health endpoint.  Add new ones here rather than
// passing ad hoc strings to SetComponentHealthStatus.
const (
	Portal_Database      HealthStatusComponent = "portal-database"
	Portal_ReceiptCache  HealthStatusComponent = "receipt-cache"
	Portal_ReceiptSource HealthStatusComponent = "receipt-source"
	Server_StorageHealth HealthStatusComponent = "storage-health"
	Server_WebUI         HealthStatusComponent = "web-ui"
)

var (
	healthStatus = sync.Map{}

	PortalHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_component_health_status",
		Help: "The health status of various components",
	}, []string{"component"})

	PortalHealthLastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_component_health_status_last_update",
		Help: "Last update timestamp of components health status",
	}, []string{"component"})
)

// Unfortunately we don't have a better way to ensure the enum constants always have
// matched string representation, so we will return "Error: status string index out of range"
// as an indicator
func (status HealthStatusEnum) String() string {
	strings := [...]string{"critical", "warning", "ok", "unknown"}

	if int(status) < 1 || int(status) > len(strings) {
		return statusIndexErrorMessage
	}
	return strings[status-1]
}

func (component HealthStatusComponent) String() string {
	return string(component)
}

// Add/update the component health status. If you have a new component to record,
// please register your component as a new constant of
// type HealthStatusComponent. Also note that StatusUnknown is mostly for internal
// use only, please try to avoid setting this as your component status
func SetComponentHealthStatus(name HealthStatusComponent, state HealthStatusEnum, msg string) {
	now := time.Now()
	healthStatus.Store(name.String(), componentStatusInternal{state, msg, now})

	PortalHealthStatus.With(
		prometheus.Labels{"component": name.String()}).
		Set(float64(state))

	PortalHealthLastUpdate.With(prometheus.Labels{"component": name.String()}).
		SetToCurrentTime()
}

// GetComponentStatus returns the string form of the component's current
// status, or an error when the component never reported one.
func GetComponentStatus(comp HealthStatusComponent) (string, error) {
	statusInt, ok := healthStatus.Load(comp.String())
	if !ok {
		return "", fmt.Errorf("component %s does not exist", comp.String())
	}
	status, ok := statusInt.(componentStatusInternal)
	if !ok {
		return "", fmt.Errorf("wrong format of component status for component %s", comp.String())
	}
	return status.Status.String(), nil
}

func DeleteComponentHealthStatus(name HealthStatusComponent) {
	healthStatus.Delete(name.String())
}

func GetHealthStatus() HealthStatus {
	status := HealthStatus{}
	status.OverallStatus = StatusUnknown.String()
	overallStatus := StatusUnknown
	healthStatus.Range(func(component, compstat any) bool {
		componentStatus, ok := compstat.(componentStatusInternal)
		if !ok {
			return true
		}
		componentString, ok := component.(string)
		if !ok {
			return true
		}
		if status.ComponentStatus == nil {
			status.ComponentStatus = make(map[string]ComponentStatus)
		}
		status.ComponentStatus[componentString] = ComponentStatus{
			componentStatus.Status.String(),
			componentStatus.Message,
			componentStatus.LastUpdate.Unix(),
		}
		if componentStatus.Status < overallStatus {
			overallStatus = componentStatus.Status
		}
		return true
	})
	status.OverallStatus = overallStatus.String()
	return status
}
