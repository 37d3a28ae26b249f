package vulkan

/**
 * @brief The default number of frames that may be in flight at once. One
 * uniform buffer is kept per in-flight frame.
 */
const MaxFramesInFlight uint32 = 2

/**
 * @brief Upper bound accepted for the configured frames in flight.
 */
const MaxFramesInFlightLimit uint32 = 3
