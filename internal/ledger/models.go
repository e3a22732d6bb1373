package ledger

import "time"

// DateLayout is the calendar-date format used for attendance days.
const DateLayout = "2006-01-02"

// TimeLayout is the time-of-day format stored on attendance events.
const TimeLayout = "15:04:05"

// DateOf formats t as a calendar date in its own location.
func DateOf(t time.Time) string { return t.Format(DateLayout) }

// Role distinguishes staff capabilities.
type Role string

const (
	RoleTeacher   Role = "teacher"
	RolePrincipal Role = "principal"
)

// Approval is the activation state shared by students and staff. Records
// start pending; an approver either approves or rejects them, once.
type Approval struct {
	IsApproved      bool       `json:"isApproved"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	Rejected        bool       `json:"rejected,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

// Pending reports whether the record is waiting for an approval decision.
func (a Approval) Pending() bool { return !a.IsApproved && !a.Rejected }

// Active reports whether the record participates in operational flows.
func (a Approval) Active() bool { return a.IsApproved && !a.Rejected }

// Student is a registered pupil. Only approved students take part in
// rosters, statistics and attendance.
type Student struct {
	ID                  string   `json:"id"`
	EnrollmentID        string   `json:"uniqueId"`
	Name                string   `json:"name"`
	Age                 int      `json:"age,omitempty"`
	Gender              string   `json:"gender,omitempty"`
	DateOfBirth         string   `json:"dob,omitempty"`
	Address             string   `json:"address,omitempty"`
	GuardianName        string   `json:"parentName,omitempty"`
	GuardianMobile      string   `json:"mobile,omitempty"`
	GovernmentID        string   `json:"aadhaar,omitempty"`
	Class               string   `json:"class"`
	Section             string   `json:"section,omitempty"`
	SchoolID            string   `json:"schoolId"`
	Photo               string   `json:"photo,omitempty"`
	FacePhotos          []string `json:"facePhotos,omitempty"`
	PreviousMarksheet   string   `json:"previousMarksheet,omitempty"`
	TransferCertificate string   `json:"transferCertificate,omitempty"`
	Approval
	RegisteredBy     string    `json:"registeredBy"`
	RegistrationDate time.Time `json:"registrationDate"`
	GuardianVerified bool      `json:"parentOtpVerified"`
}

// ReferencePhoto is the photo captures are compared against.
func (s Student) ReferencePhoto() string {
	if s.Photo != "" {
		return s.Photo
	}
	if len(s.FacePhotos) > 0 {
		return s.FacePhotos[0]
	}
	return ""
}

// Staff is a teacher or principal account.
type Staff struct {
	ID             string   `json:"id"`
	Role           Role     `json:"role"`
	Name           string   `json:"name"`
	EmployeeID     string   `json:"employeeId"`
	SchoolID       string   `json:"schoolId"`
	Email          string   `json:"email,omitempty"`
	Mobile         string   `json:"mobile,omitempty"`
	Username       string   `json:"username,omitempty"`
	CredentialsRef string   `json:"credentialsRef,omitempty"`
	Subjects       []string `json:"subjects,omitempty"`
	Approval
	RegisteredAt time.Time `json:"registeredAt"`
}

// AttendanceStatus is the outcome recorded for a student on a day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether s is a known status.
func (s AttendanceStatus) Valid() bool { return s == StatusPresent || s == StatusAbsent }

// Method records how an attendance event was produced.
type Method string

const (
	MethodCapture Method = "capture"
	MethodManual  Method = "manual"
)

// Verification describes the biometric evidence behind an event.
type Verification string

const (
	// VerificationVerified means the match score met the threshold.
	VerificationVerified Verification = "verified"
	// VerificationReview means a capture scored below threshold and needs a human decision.
	VerificationReview Verification = "review"
	// VerificationNone marks manual entries without biometric evidence.
	VerificationNone Verification = "none"
)

// AttendanceEvent is the single attendance outcome of a student for a date.
type AttendanceEvent struct {
	ID             string           `json:"id"`
	StudentID      string           `json:"studentId"`
	Date           string           `json:"date"`
	Time           string           `json:"time"`
	Status         AttendanceStatus `json:"status"`
	Method         Method           `json:"method"`
	Verification   Verification     `json:"verification"`
	MarkedBy       string           `json:"markedBy"`
	Location       string           `json:"gpsLocation,omitempty"`
	CapturedPhoto  string           `json:"capturedPhoto,omitempty"`
	Score          *float64         `json:"verificationScore,omitempty"`
	RecordedAt     time.Time        `json:"recordedAt"`
	PreviousStatus AttendanceStatus `json:"previousStatus,omitempty"`
	AmendedBy      string           `json:"amendedBy,omitempty"`
	AmendedAt      *time.Time       `json:"amendedAt,omitempty"`
	AmendReason    string           `json:"amendReason,omitempty"`
}

// CameraLog is the audit record pairing a capture with the event it produced.
type CameraLog struct {
	ID             string    `json:"id"`
	AttendanceID   string    `json:"attendanceId"`
	StudentID      string    `json:"studentId"`
	Timestamp      time.Time `json:"timestamp"`
	CapturedFace   string    `json:"capturedFace"`
	RegisteredFace string    `json:"registeredFace"`
	MatchScore     float64   `json:"matchScore"`
	Location       string    `json:"location,omitempty"`
	MarkedBy       string    `json:"markedBy"`
}

// MaterialType tags an academic artifact.
type MaterialType string

const (
	MaterialMarksheet  MaterialType = "marksheet"
	MaterialHomework   MaterialType = "homework"
	MaterialAssignment MaterialType = "assignment"
	MaterialResult     MaterialType = "result"
)

// AcademicMaterial is an artifact attached to a student or a whole class.
type AcademicMaterial struct {
	ID          string       `json:"id"`
	StudentID   string       `json:"studentId,omitempty"`
	Class       string       `json:"class,omitempty"`
	Type        MaterialType `json:"type"`
	Subject     string       `json:"subject,omitempty"`
	Title       string       `json:"title"`
	File        string       `json:"file,omitempty"`
	Description string       `json:"description,omitempty"`
	DueDate     string       `json:"dueDate,omitempty"`
	UploadedBy  string       `json:"uploadedBy"`
	UploadDate  string       `json:"uploadDate"`
	Marks       *float64     `json:"marks,omitempty"`
	TotalMarks  *float64     `json:"totalMarks,omitempty"`
}

// EntitlementType names a tracked benefit.
type EntitlementType string

const (
	EntitlementMiddayMeal  EntitlementType = "midday_meal"
	EntitlementBooks       EntitlementType = "books"
	EntitlementUniform     EntitlementType = "uniform"
	EntitlementScholarship EntitlementType = "scholarship"
)

// EntitlementStatus is the benefit lifecycle position.
type EntitlementStatus string

const (
	EntitlementPending   EntitlementStatus = "pending"
	EntitlementApproved  EntitlementStatus = "approved"
	EntitlementDisbursed EntitlementStatus = "disbursed"
	EntitlementReceived  EntitlementStatus = "received"
)

// Entitlement is a benefit record for one student.
type Entitlement struct {
	ID            string            `json:"id"`
	StudentID     string            `json:"studentId"`
	Type          EntitlementType   `json:"type"`
	Status        EntitlementStatus `json:"status"`
	StartDate     string            `json:"startDate,omitempty"`
	Quantity      int               `json:"quantity,omitempty"`
	Amount        float64           `json:"amount,omitempty"`
	ExpectedDate  string            `json:"expectedDate,omitempty"`
	DisbursedDate string            `json:"disbursedDate,omitempty"`
	ReceivedDate  string            `json:"receivedDate,omitempty"`
	UpdatedBy     string            `json:"updatedBy,omitempty"`
}
